package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/alessio/shellescape"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/runner/runtime"
)

// LocalLauncher spawns a job's start script as a child OS process and reports its pid as the
// external id. It never chains dependents: a fan-out's tail is always
// started independently by the Dispatcher.
type LocalLauncher struct {
	commands   models.CommandCatalog
	config     Config
	shellOrNil *string
	logger.Log
}

func NewLocalLauncher(commands models.CommandCatalog, config Config, shellOrNil *string, logFactory logger.LogFactory) *LocalLauncher {
	return &LocalLauncher{
		commands:   commands,
		config:     config,
		shellOrNil: shellOrNil,
		Log:        logFactory("LocalLauncher"),
	}
}

func (l *LocalLauncher) ChainsDependents() bool {
	return false
}

func (l *LocalLauncher) Launch(ctx context.Context, job *models.Job, parentExternalID string) (string, error) {
	cmd, err := l.commands.Get(ctx, job.CommandID)
	if err != nil {
		return "", fmt.Errorf("error reading command %q: %w", job.CommandID, err)
	}

	dir := WorkDir(l.config, job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("could not create work dir for job %q", job.ID), err)
	}

	lines := []string{
		cmd.EnvScript,
		fmt.Sprintf("%s %s %s %s", cmd.StartScript, shellescape.Quote(JobURL(l.config)), shellescape.Quote(job.ID.String()), shellescape.Quote(dir)),
	}
	scriptName := "start"
	hostOS := runtime.GetHostOS()
	if hostOS == runtime.OSWindows {
		scriptName += ".bat"
	}
	scriptPath, err := runtime.WriteScript(dir, scriptName, lines)
	if err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("could not write start script for job %q", job.ID), err)
	}

	shell := runtime.ShellOrDefault(hostOS, l.shellOrNil)
	var osCmd *exec.Cmd
	if hostOS == runtime.OSWindows {
		osCmd = exec.Command(shell, "/D", "/E:ON", "/V:OFF", "/S", "/C", scriptPath)
	} else {
		osCmd = exec.Command(shell, scriptPath)
	}
	osCmd.Dir = dir

	if err := osCmd.Start(); err != nil {
		return "", gerror.NewErrRuntimeFailure(fmt.Sprintf("could not start job %q", job.ID), err)
	}
	pid := osCmd.Process.Pid

	// Reap the child in the background; its exit status is irrelevant here (completion is reported
	// through Job.complete, not process exit), but an unreaped child leaks a zombie process.
	go func() {
		if err := osCmd.Wait(); err != nil {
			l.WithField("job_id", job.ID).Debugf("local job process exited: %v", err)
		}
	}()

	return strconv.Itoa(pid), nil
}
