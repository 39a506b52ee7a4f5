package watcher

import (
	"context"
	"fmt"
	"os/exec"
)

// ExecClusterProbe implements ClusterProbe by shelling out to the cluster scheduler's own
// status and job-listing commands, grounded on launcher.ClusterLauncher's os/exec submission
// pattern (run a named binary, check its exit status, capture its stdout).
type ExecClusterProbe struct {
	// StatusCommand is run with no arguments to check the scheduler is reachable; a non-zero
	// exit is treated as "cluster unavailable". Defaults to "qstat --version".
	StatusCommand []string
	// ListCommand is run to fetch the XML job listing on stdout. Defaults to "qstat -x".
	ListCommand []string
}

func NewExecClusterProbe() *ExecClusterProbe {
	return &ExecClusterProbe{
		StatusCommand: []string{"qstat", "--version"},
		ListCommand:   []string{"qstat", "-x"},
	}
}

func (p *ExecClusterProbe) Status(ctx context.Context) error {
	cmd := p.command(ctx, p.StatusCommand)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("error probing cluster scheduler status: %w", err)
	}
	return nil
}

func (p *ExecClusterProbe) ListJobs(ctx context.Context) ([]byte, error) {
	cmd := p.command(ctx, p.ListCommand)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("error listing cluster jobs: %w", err)
	}
	return out, nil
}

func (p *ExecClusterProbe) command(ctx context.Context, argv []string) *exec.Cmd {
	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}
