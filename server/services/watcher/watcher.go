// Package watcher implements the long-running cluster poll loop described in
// server/services/interfaces.go's Dispatcher/Launcher split: a process separate from request
// handling that watches the cluster scheduler's own job listing and reports status changes back
// as they're observed, rather than the orchestrator polling the cluster inline. Grounded on
// runner.Scheduler's Start/Stop/exitChan pattern and work_queue.WorkQueueService's
// requestShutdownChan/shutdownCompleteChan pair for coordinating goroutine shutdown.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
)

// DefaultPollInterval is the minimum sensible interval between cluster polls; the cluster
// scheduler's own job listing command is too expensive to call much more often than this.
const DefaultPollInterval = 60 * time.Second

// Event is a single job observation posted to the Events channel: either a status snapshot, or
// (Quit true) the sentinel telling a consumer this watcher has stopped for good.
type Event struct {
	JobID      string
	Name       string
	Status     models.JobStatus
	ExitStatus *int
	Quit       bool
}

// Config carries the tunables read off the runtime configuration block for this watcher.
type Config struct {
	// Owner restricts the job listing to jobs submitted by this cluster user. Empty means no
	// filtering.
	Owner string
	// PollInterval is the fixed delay between successive cluster job listing polls. Defaults to
	// DefaultPollInterval; NewSchedulerWatcher raises any smaller value to DefaultPollInterval (60s).
	PollInterval time.Duration
}

// SchedulerWatcher polls a cluster scheduler's job listing and reports per-job status changes
// over the Events channel, isolated (by construction: it owns no database handle and no
// dispatcher) from the orchestrator's own state so the two only ever communicate through that
// channel and the Quit sentinel it eventually posts.
type SchedulerWatcher struct {
	probe  ClusterProbe
	clk    clock.Clock
	config Config
	events chan Event

	mu                   sync.Mutex
	requestShutdownChan  chan struct{}
	shutdownCompleteChan chan struct{}

	// previous remembers the last snapshot seen for each job, keyed by cluster job ID, so only
	// genuine changes are posted and so a completed job that fails can check its own dependents.
	previous map[string]snapshot

	logger.Log
}

func NewSchedulerWatcher(probe ClusterProbe, clk clock.Clock, config Config, logFactory logger.LogFactory) *SchedulerWatcher {
	if config.PollInterval < DefaultPollInterval {
		config.PollInterval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SchedulerWatcher{
		probe:    probe,
		clk:      clk,
		config:   config,
		events:   make(chan Event, 64),
		previous: make(map[string]snapshot),
		Log:      logFactory("SchedulerWatcher"),
	}
}

// Events returns the channel snapshots and the eventual Quit sentinel are posted on. The channel
// is never closed; consumers watch for Quit instead, matching the poison-pill convention the
// cluster side of this protocol uses.
func (w *SchedulerWatcher) Events() <-chan Event {
	return w.events
}

// Start probes the cluster once; if it isn't reachable, a Quit event is posted immediately and
// Start returns without spawning the poll loop. Otherwise the loop runs until Stop is called.
func (w *SchedulerWatcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.requestShutdownChan != nil {
		return
	}

	if err := w.probe.Status(ctx); err != nil {
		w.WithField("error", err).Error("cluster scheduler not reachable; exiting")
		w.events <- Event{Quit: true}
		return
	}

	w.requestShutdownChan = make(chan struct{})
	w.shutdownCompleteChan = make(chan struct{})
	go w.loop(w.requestShutdownChan, w.shutdownCompleteChan)
}

// Stop requests the poll loop exit and waits for it to do so, then posts the Quit sentinel.
func (w *SchedulerWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.requestShutdownChan == nil {
		return
	}
	close(w.requestShutdownChan)
	<-w.shutdownCompleteChan
	w.requestShutdownChan = nil
	w.shutdownCompleteChan = nil
	w.events <- Event{Quit: true}
}

func (w *SchedulerWatcher) loop(requestShutdownChan, shutdownCompleteChan chan struct{}) {
	defer close(shutdownCompleteChan)

	ctx := context.Background()
	w.poll(ctx)
	for {
		select {
		case <-requestShutdownChan:
			return
		case <-w.clk.After(w.config.PollInterval):
			w.poll(ctx)
		}
	}
}

// poll lists the cluster's jobs, diffs them against the last observation, and posts an Event for
// every job whose status has genuinely changed, then cascades DROPPED to the held dependents of
// any job that just completed with a non-zero exit status.
func (w *SchedulerWatcher) poll(ctx context.Context) {
	raw, err := w.probe.ListJobs(ctx)
	if err != nil {
		w.WithField("error", err).Error("error listing cluster jobs")
		return
	}
	current, err := parseJobListing(raw, w.config.Owner)
	if err != nil {
		w.WithField("error", err).Error("error parsing cluster job listing")
		return
	}

	seen := make(map[string]bool, len(current))
	for _, snap := range current {
		seen[snap.JobID] = true
		prior, known := w.previous[snap.JobID]
		if !known || prior.State != snap.State || !sameExit(prior.ExitStatus, snap.ExitStatus) {
			w.previous[snap.JobID] = snap
			w.events <- Event{
				JobID:      snap.JobID,
				Name:       snap.Name,
				Status:     translateOrchestratorStatus(snap.State, snap.ExitStatus),
				ExitStatus: snap.ExitStatus,
			}
		}
		if snap.State == internalCompleted && snap.ExitStatus != nil && *snap.ExitStatus != 0 {
			w.dropDependents(snap)
		}
	}

	// A job that has fallen out of the listing entirely (the scheduler purged it) is no longer
	// something this watcher can usefully track; forget it rather than holding it forever.
	for id := range w.previous {
		if !seen[id] {
			delete(w.previous, id)
		}
	}
}

// dropDependents posts a synthetic DROPPED event for every child named by failed's beforeok
// dependency clause that this watcher still has as a known, not-yet-terminal job.
func (w *SchedulerWatcher) dropDependents(failed snapshot) {
	for _, childID := range beforeokChildren(failed.Depend) {
		child, known := w.previous[childID]
		if !known {
			continue
		}
		if child.State == internalCompleted {
			continue
		}
		w.events <- Event{
			JobID:  childID,
			Name:   child.Name,
			Status: translateOrchestratorStatus(internalDropped, nil),
		}
		delete(w.previous, childID)
	}
}

func sameExit(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
