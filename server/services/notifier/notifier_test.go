package notifier_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services"
	"github.com/buildbeaver/buildbeaver/server/services/notifier"
)

type fakeUserDirectory struct {
	role    models.Role
	optOut  bool
	address string
}

func (f *fakeUserDirectory) Role(ctx context.Context, userID models.UserID) (models.Role, error) {
	return f.role, nil
}
func (f *fakeUserDirectory) EmailOptOut(ctx context.Context, userID models.UserID) (bool, error) {
	return f.optOut, nil
}
func (f *fakeUserDirectory) EmailAddress(ctx context.Context, userID models.UserID) (string, error) {
	return f.address, nil
}
func (f *fakeUserDirectory) ExtraResourceParams(ctx context.Context, userID models.UserID) (string, error) {
	return "", nil
}

type fakeCommandCatalog struct {
	cmd *models.Command
}

func (f *fakeCommandCatalog) Get(ctx context.Context, id models.CommandID) (*models.Command, error) {
	return f.cmd, nil
}
func (f *fakeCommandCatalog) GetByName(ctx context.Context, name string) (*models.Command, error) {
	return f.cmd, nil
}

type fakeMailer struct {
	sent []services.Message
}

func (f *fakeMailer) Send(ctx context.Context, msg services.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newTestJob(status models.JobStatus) *models.Job {
	job := models.NewJob(models.NewWorkflowID(), models.NewUserID(), models.NewCommandID(), nil)
	job.Status = status
	return job
}

func TestNotifyStatusChange_SendsForGenericCommand(t *testing.T) {
	users := &fakeUserDirectory{role: models.RoleUser, address: "user@example.com"}
	cmds := &fakeCommandCatalog{cmd: &models.Command{Name: "split_libraries", Kind: models.CommandKindGeneric}}
	mailer := &fakeMailer{}
	svc := notifier.NewService(users, cmds, mailer, notifier.Config{})

	job := newTestJob(models.JobStatusSuccess)
	err := svc.NotifyStatusChange(context.Background(), job, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"user@example.com"}, mailer.sent[0].To)
}

func TestNotifyStatusChange_SkipsWaitingStatus(t *testing.T) {
	users := &fakeUserDirectory{role: models.RoleUser, address: "user@example.com"}
	cmds := &fakeCommandCatalog{cmd: &models.Command{Name: "split_libraries", Kind: models.CommandKindGeneric}}
	mailer := &fakeMailer{}
	svc := notifier.NewService(users, cmds, mailer, notifier.Config{})

	job := newTestJob(models.JobStatusWaiting)
	err := svc.NotifyStatusChange(context.Background(), job, models.JobStatusRunning)
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestNotifyStatusChange_SkipsOptedOutUser(t *testing.T) {
	users := &fakeUserDirectory{role: models.RoleUser, optOut: true, address: "user@example.com"}
	cmds := &fakeCommandCatalog{cmd: &models.Command{Name: "split_libraries", Kind: models.CommandKindGeneric}}
	mailer := &fakeMailer{}
	svc := notifier.NewService(users, cmds, mailer, notifier.Config{})

	job := newTestJob(models.JobStatusSuccess)
	err := svc.NotifyStatusChange(context.Background(), job, models.JobStatusRunning)
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestNotifyStatusChange_SkipsValidatorProtocolCommands(t *testing.T) {
	users := &fakeUserDirectory{role: models.RoleUser, address: "user@example.com"}
	cmds := &fakeCommandCatalog{cmd: &models.Command{Name: "Validate", Kind: models.CommandKindValidate}}
	mailer := &fakeMailer{}
	svc := notifier.NewService(users, cmds, mailer, notifier.Config{})

	job := newTestJob(models.JobStatusSuccess)
	err := svc.NotifyStatusChange(context.Background(), job, models.JobStatusRunning)
	require.NoError(t, err)
	require.Empty(t, mailer.sent)
}

func TestNotifyStatusChange_CCsSysAdminForAdminRole(t *testing.T) {
	users := &fakeUserDirectory{role: models.RoleAdmin, address: "admin@example.com"}
	cmds := &fakeCommandCatalog{cmd: &models.Command{Name: "split_libraries", Kind: models.CommandKindGeneric}}
	mailer := &fakeMailer{}
	svc := notifier.NewService(users, cmds, mailer, notifier.Config{SysAdminAddress: "sysadmin@example.com"})

	job := newTestJob(models.JobStatusError)
	job.Error = models.NewError(context.DeadlineExceeded)
	err := svc.NotifyStatusChange(context.Background(), job, models.JobStatusRunning)
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	require.Equal(t, []string{"sysadmin@example.com"}, mailer.sent[0].Cc)
	require.Contains(t, mailer.sent[0].Body, "Error:")
}
