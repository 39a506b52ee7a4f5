// Package notifier implements the Notifier described in server/services/interfaces.go: the
// status-write-to-email decision and rendering. Delivery transport is pushed behind the narrow
// services.Mailer interface (see server/services/notifier/mail); this package owns policy only —
// whether to send, who to send to, and what the message says.
package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services"
)

// skippedCommandNames never generate a notification even on a status change that would
// otherwise qualify: these commands are implementation detail of the validator protocol, not
// something a user submitted directly.
var skippedCommandNames = map[string]bool{
	"Validate":           true,
	"complete_job":       true,
	"release_validators": true,
}

// Config carries the one piece of policy this package can't derive from a job or its command:
// the address admin and wet-lab-admin job owners' notifications are also cc'd to.
type Config struct {
	SysAdminAddress string
}

// Service implements services.Notifier.
type Service struct {
	users  models.UserDirectory
	cmds   models.CommandCatalog
	mailer services.Mailer
	config Config
}

func NewService(users models.UserDirectory, cmds models.CommandCatalog, mailer services.Mailer, config Config) *Service {
	return &Service{users: users, cmds: cmds, mailer: mailer, config: config}
}

// NotifyStatusChange decides whether job's transition from previous to its current status
// warrants an email, and sends it if so.
func (s *Service) NotifyStatusChange(ctx context.Context, job *models.Job, previous models.JobStatus) error {
	if job.Status == models.JobStatusWaiting {
		return nil
	}
	optedOut, err := s.users.EmailOptOut(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("error checking notification opt-out for user %q: %w", job.UserID, err)
	}
	if optedOut {
		return nil
	}

	cmd, err := s.cmds.Get(ctx, job.CommandID)
	if err != nil {
		return fmt.Errorf("error reading command %q for job %q: %w", job.CommandID, job.ID, err)
	}
	if cmd.Kind == models.CommandKindArtifactDefinition || skippedCommandNames[cmd.Name] {
		return nil
	}

	to, err := s.users.EmailAddress(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("error resolving notification address for user %q: %w", job.UserID, err)
	}
	if to == "" {
		return nil
	}

	var cc []string
	role, err := s.users.Role(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("error resolving role for user %q: %w", job.UserID, err)
	}
	if (role == models.RoleAdmin || role == models.RoleWetLabAdmin) && s.config.SysAdminAddress != "" {
		cc = append(cc, s.config.SysAdminAddress)
	}

	msg := services.Message{
		To:      []string{to},
		Cc:      cc,
		Subject: fmt.Sprintf("%s: %s, %s [%s]", cmd.Name, job.Status, job.ID, job.ExternalID),
		Body:    s.renderBody(job, cmd),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("error sending notification for job %q: %w", job.ID, err)
	}
	return nil
}

// renderBody composes the body describing job's outcome. Absent a first-class study/prep/
// analysis data model in this core (that bookkeeping lives behind ArtifactRegistry, out of
// scope here), the three original tiers collapse to what the job itself actually carries: its
// declared outputs (a prep-bearing artifact), an "analysis_id" parameter if present, or a plain
// admin-job line — then the error, if any, is appended.
func (s *Service) renderBody(job *models.Job, cmd *models.Command) string {
	var b strings.Builder
	switch {
	case len(cmd.Outputs) > 0 && len(job.OutputBindings) > 0:
		fmt.Fprintf(&b, "Job %s (%s) produced:\n", job.ID, cmd.Name)
		for _, out := range cmd.Outputs {
			if artifactID, ok := job.OutputBindings[out.ID]; ok {
				fmt.Fprintf(&b, "  - %s: %s\n", out.Name, artifactID)
			}
		}
	case isSet(job.Parameters["analysis_id"]):
		fmt.Fprintf(&b, "Analysis job %s (%s): %s\n", job.ID, cmd.Name, job.Parameters["analysis_id"].Scalar)
	default:
		fmt.Fprintf(&b, "Admin job %s (%s).\n", job.ID, cmd.Name)
	}

	if job.Status == models.JobStatusError && job.Error != nil {
		fmt.Fprintf(&b, "\nError: %s\n", job.Error.Error())
	}
	return b.String()
}

func isSet(p models.ParameterValue) bool {
	return p.Kind == models.ParameterKindScalar && p.Scalar != ""
}
