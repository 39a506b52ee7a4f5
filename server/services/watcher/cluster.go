package watcher

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// ClusterProbe is the narrow interface this package needs onto the cluster scheduler: a
// lightweight availability check, and the raw XML job listing. No example in this codebase's
// dependency set parses anything richer than a flat job listing like this one, so it's decoded
// with the standard library's encoding/xml rather than a third-party XML library.
type ClusterProbe interface {
	// Status returns an error if the cluster scheduler cannot be reached at all.
	Status(ctx context.Context) error
	// ListJobs returns the raw XML job listing for every job currently known to the scheduler.
	ListJobs(ctx context.Context) ([]byte, error)
}

// rawJobList mirrors a cluster scheduler's qstat -x style XML listing: a flat <Data><Job>...
// sequence, one element per job, with the scheduler's own field names.
type rawJobList struct {
	XMLName xml.Name `xml:"Data"`
	Jobs    []rawJob `xml:"Job"`
}

type rawJob struct {
	JobID      string `xml:"Job_Id"`
	JobName    string `xml:"Job_Name"`
	JobOwner   string `xml:"Job_Owner"`
	JobState   string `xml:"job_state"`
	ExitStatus string `xml:"exit_status"`
	Depend     string `xml:"depend"`
}

// snapshot is a single job's state as observed on one poll, filtered to fields the orchestrator
// cares about.
type snapshot struct {
	JobID      string
	Name       string
	State      internalState
	ExitStatus *int
	Depend     string
}

// parseJobListing decodes a cluster job listing and filters it to jobs owned by owner.
func parseJobListing(data []byte, owner string) ([]snapshot, error) {
	var list rawJobList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("error decoding cluster job listing: %w", err)
	}

	var out []snapshot
	for _, j := range list.Jobs {
		if owner != "" && j.JobOwner != owner {
			continue
		}
		native, ok := nativeToInternal[NativeState(j.JobState)]
		if !ok {
			continue
		}
		s := snapshot{
			JobID:  j.JobID,
			Name:   j.JobName,
			State:  native,
			Depend: j.Depend,
		}
		if j.ExitStatus != "" {
			if code, err := strconv.Atoi(j.ExitStatus); err == nil {
				s.ExitStatus = &code
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// beforeokChildren extracts the child job IDs named by a "beforeok:id1:id2" clause within a
// depend field. A depend field may carry several colon/comma-separated clauses; only the
// beforeok one matters for the DROPPED cascade.
func beforeokChildren(depend string) []string {
	const prefix = "beforeok:"
	var children []string
	for _, clause := range strings.Split(depend, ",") {
		clause = strings.TrimSpace(clause)
		if !strings.HasPrefix(clause, prefix) {
			continue
		}
		rest := strings.TrimPrefix(clause, prefix)
		for _, id := range strings.Split(rest, ":") {
			id = strings.TrimSpace(id)
			if id != "" {
				children = append(children, id)
			}
		}
	}
	return children
}
