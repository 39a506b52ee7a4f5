// Package dispatch implements the Dispatcher described in server/services/interfaces.go: the
// layer that sits between a job's transition to queued and an actual Launcher backend. It owns
// the synchronous ENVIRONMENT special path and the chain-vs-independent-start distinction
// between the cluster and local backends, grounded on runner/runtime/exec/runtime.go's
// write-script-then-exec pattern.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/runner/runtime"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/services/launcher"
	"github.com/buildbeaver/buildbeaver/server/store"
)

// environmentToken is the marker a command's env script carries to signal it should run
// synchronously, inline, rather than being handed to a Launcher.
const environmentToken = "ENVIRONMENT"

// environmentExemptCommands never take the ENVIRONMENT special path even when their env script
// contains the token: these commands' env scripts mention it only incidentally.
var environmentExemptCommands = map[string]bool{
	"Calculate Cell Counts":      true,
	"Calculate RNA Copy Counts":  true,
}

// JobUpdater is the narrow slice of job.Service the Dispatcher needs: reading a job, forcing it
// to running for the synchronous ENVIRONMENT path, recording its external id, and failing it.
// Submitting a not-yet-queued job (for DispatchChain's validator fan-out) is also required.
type JobUpdater interface {
	Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error)
	Submit(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	Heartbeat(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) (*models.Job, error)
	MarkExternalID(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, externalID string) error
	SetError(ctx context.Context, txOrNil *store.Tx, jobID models.JobID, cause error) (*models.Job, error)
}

type Service struct {
	jobs      JobUpdater
	commands  models.CommandCatalog
	launcher  services.Launcher
	cascade   services.ValidatorService // only used to fail descendants of a launch failure
	config    launcher.Config
	shell     string
	logger.Log
}

func NewService(
	jobs JobUpdater,
	commands models.CommandCatalog,
	lnch services.Launcher,
	cascade services.ValidatorService,
	config launcher.Config,
	shell string,
	logFactory logger.LogFactory,
) *Service {
	if shell == "" {
		shell = runtime.ShellOrDefault(runtime.GetHostOS(), nil)
	}
	return &Service{
		jobs:     jobs,
		commands: commands,
		launcher: lnch,
		cascade:  cascade,
		config:   config,
		shell:    shell,
		Log:      logFactory("Dispatcher"),
	}
}

// Dispatch submits jobID, which the caller has already transitioned to queued, out to the
// configured Launcher (or, on the ENVIRONMENT special path, runs it inline).
func (s *Service) Dispatch(ctx context.Context, jobID models.JobID) error {
	_, err := s.dispatchOne(ctx, jobID, "")
	return err
}

// DispatchChain submits lead (not yet queued) and the rest of chain behind it. When the
// configured Launcher chains dependents (cluster), each subsequent job is submitted only once
// the previous one has an external id, as a linear afterok dependency. When it does not (local),
// every job in chain after the first is submitted independently, with no ordering between them.
func (s *Service) DispatchChain(ctx context.Context, chain []models.JobID) error {
	return s.dispatchChain(ctx, chain, "")
}

func (s *Service) dispatchChain(ctx context.Context, chain []models.JobID, parentExternalID string) error {
	if len(chain) == 0 {
		return nil
	}
	lead := chain[0]
	rest := chain[1:]

	if _, err := s.jobs.Submit(ctx, nil, lead); err != nil {
		return fmt.Errorf("error submitting chained job %q: %w", lead, err)
	}
	externalID, err := s.dispatchOne(ctx, lead, parentExternalID)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return nil
	}
	if s.launcher.ChainsDependents() {
		return s.dispatchChain(ctx, rest, externalID)
	}
	for _, id := range rest {
		if err := s.dispatchChain(ctx, []models.JobID{id}, ""); err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne resolves a single already-queued job's command, routes it down the ENVIRONMENT
// special path or out to the configured Launcher, and returns the external id it was assigned.
func (s *Service) dispatchOne(ctx context.Context, jobID models.JobID, parentExternalID string) (string, error) {
	job, err := s.jobs.Read(ctx, nil, jobID)
	if err != nil {
		return "", err
	}
	cmd, err := s.commands.Get(ctx, job.CommandID)
	if err != nil {
		return "", fmt.Errorf("error reading command %q for job %q: %w", job.CommandID, job.ID, err)
	}

	if strings.Contains(cmd.EnvScript, environmentToken) && !environmentExemptCommands[cmd.Name] {
		return s.dispatchEnvironment(ctx, job, cmd)
	}

	externalID, err := s.launcher.Launch(ctx, job, parentExternalID)
	if err != nil {
		s.failJob(ctx, job.ID, gerror.NewErrRuntimeFailure(fmt.Sprintf("launcher failed for job %q", job.ID), err))
		return "", err
	}
	if err := s.jobs.MarkExternalID(ctx, nil, job.ID, externalID); err != nil {
		return "", err
	}
	return externalID, nil
}

// dispatchEnvironment runs the ENVIRONMENT special path: the job's env script and start script
// run synchronously in the current process, with captured stdout as the external id.
//
// Unlike a naive stderr != '' check that still records an external id regardless, any stderr
// output here (like a non-zero exit) is treated as failure and no external id is recorded.
func (s *Service) dispatchEnvironment(ctx context.Context, job *models.Job, cmd *models.Command) (string, error) {
	if _, err := s.jobs.Heartbeat(ctx, nil, job.ID); err != nil {
		return "", err
	}

	dir := launcher.WorkDir(s.config, job.ID)
	script := fmt.Sprintf("%s\n%s %s %s %s\n",
		cmd.EnvScript, cmd.StartScript, launcher.JobURL(s.config), job.ID.String(), dir)

	var stdout, stderr bytes.Buffer
	osCmd := exec.CommandContext(ctx, s.shell, "-c", script)
	osCmd.Dir = dir
	osCmd.Stdout = &stdout
	osCmd.Stderr = &stderr

	runErr := osCmd.Run()
	if runErr != nil || stderr.Len() > 0 {
		cause := gerror.NewErrRuntimeFailure(
			fmt.Sprintf("environment script failed for job %q: %s", job.ID, strings.TrimSpace(stderr.String())),
			runErr)
		s.failJob(ctx, job.ID, cause)
		return "", cause
	}

	externalID := strings.TrimSpace(stdout.String())
	if err := s.jobs.MarkExternalID(ctx, nil, job.ID, externalID); err != nil {
		return "", err
	}
	return externalID, nil
}

// failJob transitions job to error and cascades the failure to its descendants. Errors from the
// cascade itself are logged rather than returned: the caller already has the original launch
// failure to report.
func (s *Service) failJob(ctx context.Context, jobID models.JobID, cause error) {
	if _, err := s.jobs.SetError(ctx, nil, jobID, cause); err != nil {
		s.WithField("job_id", jobID).Errorf("error setting job to error after launch failure: %v", err)
	}
	if s.cascade == nil {
		return
	}
	if err := s.cascade.FailCascade(ctx, nil, jobID, cause); err != nil {
		s.WithField("job_id", jobID).Errorf("error cascading launch failure to descendants: %v", err)
	}
}
