package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
)

func TestTranslateOrchestratorStatus(t *testing.T) {
	zero, nonzero := 0, 1
	require.Equal(t, models.JobStatusQueued, translateOrchestratorStatus(internalQueued, nil))
	require.Equal(t, models.JobStatusQueued, translateOrchestratorStatus(internalHeld, nil))
	require.Equal(t, models.JobStatusRunning, translateOrchestratorStatus(internalRunning, nil))
	require.Equal(t, models.JobStatusRunning, translateOrchestratorStatus(internalExiting, nil))
	require.Equal(t, models.JobStatusSuccess, translateOrchestratorStatus(internalCompleted, &zero))
	require.Equal(t, models.JobStatusError, translateOrchestratorStatus(internalCompleted, &nonzero))
	require.Equal(t, models.JobStatusError, translateOrchestratorStatus(internalCompleted, nil))
	require.Equal(t, models.JobStatusError, translateOrchestratorStatus(internalDropped, nil))
}

const testListing = `<Data>
  <Job>
    <Job_Id>100.server</Job_Id>
    <Job_Name>split_libraries</Job_Name>
    <Job_Owner>alice</Job_Owner>
    <job_state>R</job_state>
  </Job>
  <Job>
    <Job_Id>101.server</Job_Id>
    <Job_Name>pick_otus</Job_Name>
    <Job_Owner>alice</Job_Owner>
    <job_state>C</job_state>
    <exit_status>1</exit_status>
    <depend>beforeok:102.server:103.server</depend>
  </Job>
  <Job>
    <Job_Id>200.server</Job_Id>
    <Job_Name>other_user_job</Job_Name>
    <Job_Owner>bob</Job_Owner>
    <job_state>R</job_state>
  </Job>
</Data>`

func TestParseJobListing_FiltersByOwner(t *testing.T) {
	snaps, err := parseJobListing([]byte(testListing), "alice")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	require.Equal(t, "100.server", snaps[0].JobID)
	require.Equal(t, internalRunning, snaps[0].State)
	require.Equal(t, "101.server", snaps[1].JobID)
	require.Equal(t, internalCompleted, snaps[1].State)
	require.NotNil(t, snaps[1].ExitStatus)
	require.Equal(t, 1, *snaps[1].ExitStatus)
}

func TestParseJobListing_NoOwnerFilterReturnsEverythingKnown(t *testing.T) {
	snaps, err := parseJobListing([]byte(testListing), "")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
}

func TestBeforeokChildren(t *testing.T) {
	require.Equal(t, []string{"102.server", "103.server"}, beforeokChildren("beforeok:102.server:103.server"))
	require.Nil(t, beforeokChildren("afterok:104.server"))
	require.Equal(t, []string{"102.server"}, beforeokChildren("afterok:99.server,beforeok:102.server"))
}

type fakeProbe struct {
	statusErr error
	listings  [][]byte
	calls     int
}

func (f *fakeProbe) Status(ctx context.Context) error { return f.statusErr }

func (f *fakeProbe) ListJobs(ctx context.Context) ([]byte, error) {
	idx := f.calls
	if idx >= len(f.listings) {
		idx = len(f.listings) - 1
	}
	f.calls++
	return f.listings[idx], nil
}

func TestSchedulerWatcher_PostsEventOnStatusChange(t *testing.T) {
	probe := &fakeProbe{listings: [][]byte{[]byte(testListing)}}
	clk := clock.NewMock()
	w := NewSchedulerWatcher(probe, clk, Config{Owner: "alice", PollInterval: time.Minute}, logger.NoOpLogFactory)

	w.Start(context.Background())
	defer w.Stop()

	var events []Event
	for i := 0; i < 2; i++ {
		select {
		case e := <-w.Events():
			events = append(events, e)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for initial poll events")
		}
	}

	require.Len(t, events, 2)
	require.Equal(t, "100.server", events[0].JobID)
	require.Equal(t, models.JobStatusRunning, events[0].Status)
	require.Equal(t, "101.server", events[1].JobID)
	require.Equal(t, models.JobStatusError, events[1].Status)
}

func TestSchedulerWatcher_QuitsWhenClusterUnreachable(t *testing.T) {
	probe := &fakeProbe{statusErr: context.DeadlineExceeded}
	w := NewSchedulerWatcher(probe, clock.NewMock(), Config{}, logger.NoOpLogFactory)

	w.Start(context.Background())

	select {
	case e := <-w.Events():
		require.True(t, e.Quit)
	case <-time.After(time.Second):
		t.Fatal("expected a Quit event when the cluster is unreachable")
	}
}
