package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services"
)

// ClusterLauncherConfig adds the sbatch-specific configuration to the shared
// launcher Config: the scheduler's job-id environment variable (echoed at the top of the batch
// script), an optional epilogue script, and the sbatch binary to invoke.
type ClusterLauncherConfig struct {
	Config
	SchedulerJobIDVar string
	Epilogue          *string
	SbatchPath        string
}

// ClusterLauncher writes an sbatch batch script and submits it. It
// always chains dependents as a linear sequence of afterok dependencies.
type ClusterLauncher struct {
	commands  models.CommandCatalog
	users     models.UserDirectory
	resources services.ResourceResolver
	config    ClusterLauncherConfig
	logger.Log
}

func NewClusterLauncher(
	commands models.CommandCatalog,
	users models.UserDirectory,
	resources services.ResourceResolver,
	config ClusterLauncherConfig,
	logFactory logger.LogFactory,
) *ClusterLauncher {
	if config.SbatchPath == "" {
		config.SbatchPath = "sbatch"
	}
	return &ClusterLauncher{
		commands:  commands,
		users:     users,
		resources: resources,
		config:    config,
		Log:       logFactory("ClusterLauncher"),
	}
}

func (l *ClusterLauncher) ChainsDependents() bool {
	return true
}

func (l *ClusterLauncher) Launch(ctx context.Context, job *models.Job, parentExternalID string) (string, error) {
	cmd, err := l.commands.Get(ctx, job.CommandID)
	if err != nil {
		return "", fmt.Errorf("error reading command %q: %w", job.CommandID, err)
	}

	dir := WorkDir(l.config.Config, job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("could not create work dir for job %q", job.ID), err)
	}

	extraParams, err := l.users.ExtraResourceParams(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("error reading extra resource params for user %q: %w", job.UserID, err)
	}
	resourceParams, err := l.resources.Resolve(ctx, job, extraParams)
	if err != nil {
		return "", err
	}

	scriptPath, err := l.writeBatchScript(dir, job, cmd)
	if err != nil {
		return "", err
	}

	args := make([]string, 0, 6)
	if parentExternalID != "" {
		args = append(args, "-d", "afterok:"+parentExternalID)
	}
	if resourceParams != "" {
		args = append(args, strings.Fields(resourceParams)...)
	}
	args = append(args, scriptPath)

	out, err := exec.CommandContext(ctx, l.config.SbatchPath, args...).Output()
	if err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("sbatch submission failed for job %q", job.ID), err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("sbatch produced no output for job %q", job.ID), nil)
	}
	return fields[len(fields)-1], nil
}

// writeBatchScript writes the batch script to work_dir/<job_id>.txt.
func (l *ClusterLauncher) writeBatchScript(dir string, job *models.Job, cmd *models.Command) (string, error) {
	lines := []string{
		"#!/bin/bash",
		fmt.Sprintf("#SBATCH --error %s/slurm-error.txt", dir),
		fmt.Sprintf("#SBATCH --output %s/slurm-output.txt", dir),
	}
	if l.config.SchedulerJobIDVar != "" {
		lines = append(lines, fmt.Sprintf("echo $%s", l.config.SchedulerJobIDVar))
	}
	lines = append(lines, "source ~/.bash_profile", cmd.EnvScript)
	if l.config.Epilogue != nil {
		lines = append(lines, fmt.Sprintf("#SBATCH --epilog %s", *l.config.Epilogue))
	}
	lines = append(lines, fmt.Sprintf("%s %s %s %s",
		cmd.StartScript, shellescape.Quote(JobURL(l.config.Config)), shellescape.Quote(job.ID.String()), shellescape.Quote(dir)))

	path := filepath.Join(dir, job.ID.String()+".txt")
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
	if err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("could not write batch script for job %q", job.ID), err)
	}
	return path, nil
}
