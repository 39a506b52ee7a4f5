package validator_test

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/dto"
	"github.com/buildbeaver/buildbeaver/server/services/job"
	"github.com/buildbeaver/buildbeaver/server/services/validator"
	"github.com/buildbeaver/buildbeaver/server/store"
	"github.com/buildbeaver/buildbeaver/server/store/job_creation_locks"
	"github.com/buildbeaver/buildbeaver/server/store/jobs"
	storetest "github.com/buildbeaver/buildbeaver/server/store/store_test"
	"github.com/buildbeaver/buildbeaver/server/store/workflows"
)

type fakeCommandCatalog struct {
	byID   map[models.CommandID]*models.Command
	byName map[string]*models.Command
}

func newFakeCatalog() *fakeCommandCatalog {
	return &fakeCommandCatalog{byID: map[models.CommandID]*models.Command{}, byName: map[string]*models.Command{}}
}

func (f *fakeCommandCatalog) add(cmd *models.Command) {
	f.byID[cmd.ID] = cmd
	f.byName[cmd.Name] = cmd
}

func (f *fakeCommandCatalog) Get(ctx context.Context, id models.CommandID) (*models.Command, error) {
	return f.byID[id], nil
}

func (f *fakeCommandCatalog) GetByName(ctx context.Context, name string) (*models.Command, error) {
	return f.byName[name], nil
}

type fakeArtifactRegistry struct {
	materialized int
}

func (f *fakeArtifactRegistry) Materialize(ctx context.Context, jobID models.JobID, outputID models.CommandOutputID, payload *models.ArtifactPayload) (models.ArtifactID, error) {
	f.materialized++
	return models.NewArtifactID(), nil
}

// testFixture wires a real sqlite-backed job.Service (validator.Service can't be exercised
// against a fake store since FailCascade opens its own transaction directly on *store.DB) plus
// fake command catalog and artifact registry collaborators.
type testFixture struct {
	db         *store.DB
	jobService *job.Service
	catalog    *fakeCommandCatalog
	registry   *fakeArtifactRegistry
	workflowID models.WorkflowID
	userID     models.UserID
}

func newFixture(t *testing.T) (*testFixture, func()) {
	t.Helper()
	db, cleanup, err := storetest.Connect(logger.NoOpLogFactory)
	require.NoError(t, err)

	jobStore := jobs.NewStore(db, logger.NoOpLogFactory)
	workflowStore := workflows.NewStore(db, logger.NoOpLogFactory)
	lockStore := job_creation_locks.NewStore(db, logger.NoOpLogFactory)
	jobService := job.NewService(db, jobStore, lockStore, logger.NoOpLogFactory)

	userID := models.NewUserID()
	workflow := models.NewWorkflow(userID, models.ResourceName("test-workflow"))
	require.NoError(t, workflowStore.Create(context.Background(), nil, workflow))

	return &testFixture{
		db:         db,
		jobService: jobService,
		catalog:    newFakeCatalog(),
		registry:   &fakeArtifactRegistry{},
		workflowID: workflow.ID,
		userID:     userID,
	}, cleanup
}

// createRunningJob inserts a job and drives it through in_construction -> queued -> running, the
// state CompleteSuccess and SetError both require a predecessor status for.
func (f *testFixture) createRunningJob(t *testing.T, commandID models.CommandID) *models.Job {
	t.Helper()
	j := models.NewJob(f.workflowID, f.userID, commandID, map[string]models.ParameterValue{})
	require.NoError(t, f.jobService.Create(context.Background(), nil, &dto.CreateJob{Job: j}))
	_, err := f.jobService.Submit(context.Background(), nil, j.ID)
	require.NoError(t, err)
	_, err = f.jobService.Heartbeat(context.Background(), nil, j.ID)
	require.NoError(t, err)
	updated, err := f.jobService.Read(context.Background(), nil, j.ID)
	require.NoError(t, err)
	return updated
}

func TestComplete_ArtifactDefinitionDirectCreation(t *testing.T) {
	fx, cleanup := newFixture(t)
	defer cleanup()

	cmd := &models.Command{
		ID:   models.NewCommandID(),
		Name: "prep_template",
		Kind: models.CommandKindArtifactDefinition,
		Outputs: []models.CommandOutputDeclaration{
			{ID: "prep", Name: "Prep"},
		},
	}
	fx.catalog.add(cmd)
	job := fx.createRunningJob(t, cmd.ID)

	svc := validator.NewService(fx.db, fx.jobService, fx.catalog, fx.registry, nil, clock.NewMock(), validator.Config{}, logger.NoOpLogFactory)

	updated, err := svc.Complete(context.Background(), nil, &dto.CompleteJob{
		JobID:   job.ID,
		Success: true,
		Outputs: map[models.CommandOutputID]*models.ArtifactPayload{
			"prep": {DataType: "text/plain"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, updated.Status)
	require.Equal(t, 1, fx.registry.materialized)
}

func TestComplete_ArtifactDefinitionWithoutExactlyOneOutputFails(t *testing.T) {
	fx, cleanup := newFixture(t)
	defer cleanup()

	cmd := &models.Command{
		ID:   models.NewCommandID(),
		Name: "prep_template",
		Kind: models.CommandKindArtifactDefinition,
	}
	fx.catalog.add(cmd)
	job := fx.createRunningJob(t, cmd.ID)

	svc := validator.NewService(fx.db, fx.jobService, fx.catalog, fx.registry, nil, clock.NewMock(), validator.Config{}, logger.NoOpLogFactory)

	_, err := svc.Complete(context.Background(), nil, &dto.CompleteJob{
		JobID:   job.ID,
		Success: true,
		Outputs: map[models.CommandOutputID]*models.ArtifactPayload{},
	})
	require.Error(t, err)
}

func TestComplete_GenericCommandCompletesDirectly(t *testing.T) {
	fx, cleanup := newFixture(t)
	defer cleanup()

	cmd := &models.Command{ID: models.NewCommandID(), Name: "no_op", Kind: models.CommandKindGeneric}
	fx.catalog.add(cmd)
	job := fx.createRunningJob(t, cmd.ID)

	svc := validator.NewService(fx.db, fx.jobService, fx.catalog, fx.registry, nil, clock.NewMock(), validator.Config{}, logger.NoOpLogFactory)

	updated, err := svc.Complete(context.Background(), nil, &dto.CompleteJob{JobID: job.ID, Success: true})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusSuccess, updated.Status)
}

func TestComplete_FailureCascadesToChildren(t *testing.T) {
	fx, cleanup := newFixture(t)
	defer cleanup()

	cmd := &models.Command{ID: models.NewCommandID(), Name: "split_libraries", Kind: models.CommandKindGeneric}
	fx.catalog.add(cmd)
	parent := fx.createRunningJob(t, cmd.ID)

	child := models.NewJob(fx.workflowID, fx.userID, cmd.ID, map[string]models.ParameterValue{})
	child.Pending = map[models.JobID][]models.PendingEdge{
		parent.ID: {{ParameterName: "input", OutputName: "out"}},
	}
	require.NoError(t, fx.jobService.Create(context.Background(), nil, &dto.CreateJob{Job: child}))

	svc := validator.NewService(fx.db, fx.jobService, fx.catalog, fx.registry, nil, clock.NewMock(), validator.Config{}, logger.NoOpLogFactory)

	failed, err := svc.Complete(context.Background(), nil, &dto.CompleteJob{
		JobID:   parent.ID,
		Success: false,
		Error:   models.NewError(context.DeadlineExceeded),
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, failed.Status)

	updatedChild, err := fx.jobService.Read(context.Background(), nil, child.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusError, updatedChild.Status)
}
