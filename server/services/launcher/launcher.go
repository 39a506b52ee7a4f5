// Package launcher implements the two Launcher backends: LocalLauncher spawns
// a child OS process directly on the host; ClusterLauncher writes and submits an sbatch batch
// script. Both are grounded on runner/runtime/exec/runtime.go's script-write-then-exec pattern
// (runtime.WriteScript, runtime.ShellOrDefault, runtime.GetHostOS) adapted from "run one script to
// completion and capture its result" to "start one process/submission and hand back its external
// id without waiting for it to finish" — job completion here is reported later, through
// Job.complete or the SchedulerWatcher, not by the Launcher blocking on exit.
package launcher

import (
	"fmt"
	"path/filepath"

	"github.com/buildbeaver/buildbeaver/common/models"
)

// Config is the subset of the runtime configuration block ("base_url", "portal_dir",
// "base_work_dir") both launcher backends need to resolve a job's working directory and the url
// passed to its start script.
type Config struct {
	BaseWorkDir string
	BaseURL     string
	PortalDir   string
}

// WorkDir resolves the per-job working directory a launcher writes scripts and output into.
func WorkDir(config Config, jobID models.JobID) string {
	return filepath.Join(config.BaseWorkDir, jobID.String())
}

// JobURL resolves the portal url passed to a job's start script.
func JobURL(config Config) string {
	return fmt.Sprintf("%s/%s", trimSlash(config.BaseURL), trimSlash(config.PortalDir))
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	for len(s) > 0 && s[0] == '/' {
		s = s[1:]
	}
	return s
}
