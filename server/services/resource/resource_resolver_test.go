package resource_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services/resource"
	"github.com/buildbeaver/buildbeaver/server/store"
)

type fakeAllocationStore struct{ mock.Mock }

func (f *fakeAllocationStore) Lookup(ctx context.Context, txOrNil *store.Tx, name string, jobType models.ResourceJobType) (*models.ResourceAllocation, error) {
	args := f.Called(name, jobType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ResourceAllocation), args.Error(1)
}

type fakeCommandCatalog struct{ mock.Mock }

func (f *fakeCommandCatalog) Get(ctx context.Context, id models.CommandID) (*models.Command, error) {
	args := f.Called(id)
	return args.Get(0).(*models.Command), args.Error(1)
}

func (f *fakeCommandCatalog) GetByName(ctx context.Context, name string) (*models.Command, error) {
	args := f.Called(name)
	return args.Get(0).(*models.Command), args.Error(1)
}

type fakeShapeResolver struct{ shape models.Shape }

func (f *fakeShapeResolver) Shape(ctx context.Context, job *models.Job) (models.Shape, error) {
	return f.shape, nil
}

func intPtr(v int) *int { return &v }

func newTestJob(commandID models.CommandID) *models.Job {
	job := models.NewJob(models.NewWorkflowID(), models.NewUserID(), commandID, nil)
	return job
}

func TestResolve_FallsBackToDefaultAllocation(t *testing.T) {
	commandID := models.NewCommandID()
	commands := &fakeCommandCatalog{}
	commands.On("Get", commandID).Return(&models.Command{ID: commandID, Name: "denoise"}, nil)

	allocations := &fakeAllocationStore{}
	allocations.On("Lookup", "denoise", models.ResourceJobTypeCommand).
		Return(nil, gerror.NewErrNotFound("no row"))
	allocations.On("Lookup", models.DefaultResourceAllocationName, models.ResourceJobTypeCommand).
		Return(&models.ResourceAllocation{Template: "-p qiita --mem 4G"}, nil)

	r := resource.NewResolver(allocations, commands, nil, &fakeShapeResolver{}, nil, logger.NoOpLogFactory)
	job := newTestJob(commandID)

	got, err := r.Resolve(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, "-p qiita --mem 4G", got)
	allocations.AssertExpectations(t)
}

func TestResolve_AppendsReservationAndExtraParams(t *testing.T) {
	commandID := models.NewCommandID()
	commands := &fakeCommandCatalog{}
	commands.On("Get", commandID).Return(&models.Command{ID: commandID, Name: "denoise"}, nil)

	allocations := &fakeAllocationStore{}
	allocations.On("Lookup", "denoise", models.ResourceJobTypeCommand).
		Return(&models.ResourceAllocation{Template: "-p qiita"}, nil)

	r := resource.NewResolver(allocations, commands, nil, &fakeShapeResolver{}, nil, logger.NoOpLogFactory)
	job := newTestJob(commandID)
	job.Reservation = "maintenance"

	got, err := r.Resolve(context.Background(), job, "--qos high")
	require.NoError(t, err)
	require.Equal(t, "-p qiita --qos high --reservation maintenance", got)
}

func TestResolve_EvaluatesShapePlaceholders(t *testing.T) {
	commandID := models.NewCommandID()
	commands := &fakeCommandCatalog{}
	commands.On("Get", commandID).Return(&models.Command{ID: commandID, Name: "denoise"}, nil)

	allocations := &fakeAllocationStore{}
	allocations.On("Lookup", "denoise", models.ResourceJobTypeCommand).
		Return(&models.ResourceAllocation{Template: "-p qiita --time {samples}*60 --mem {input_size}"}, nil)

	shapes := &fakeShapeResolver{shape: models.Shape{Samples: intPtr(10), InputSize: intPtr(2147483648)}}
	r := resource.NewResolver(allocations, commands, nil, shapes, nil, logger.NoOpLogFactory)
	job := newTestJob(commandID)

	got, err := r.Resolve(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, "-p qiita --time 0:10:00 --mem 2G", got)
}

func TestResolve_MissingShapeComponentFails(t *testing.T) {
	commandID := models.NewCommandID()
	commands := &fakeCommandCatalog{}
	commands.On("Get", commandID).Return(&models.Command{ID: commandID, Name: "denoise"}, nil)

	allocations := &fakeAllocationStore{}
	allocations.On("Lookup", "denoise", models.ResourceJobTypeCommand).
		Return(&models.ResourceAllocation{Template: "-p qiita --mem {input_size}"}, nil)

	shapes := &fakeShapeResolver{shape: models.Shape{}}
	r := resource.NewResolver(allocations, commands, nil, shapes, nil, logger.NoOpLogFactory)
	job := newTestJob(commandID)

	_, err := r.Resolve(context.Background(), job, "")
	require.Error(t, err)
	require.True(t, gerror.IsResourceAllocationInvalid(err))
}

func TestResolve_ClassifiesValidatorJobByProvenanceDataType(t *testing.T) {
	commandID := models.NewCommandID()
	commands := &fakeCommandCatalog{}
	commands.On("Get", commandID).Return(&models.Command{ID: commandID, Name: "Validate"}, nil)

	allocations := &fakeAllocationStore{}
	allocations.On("Lookup", "BIOM", models.ResourceJobTypeValidate).
		Return(&models.ResourceAllocation{Template: "-p qiita --mem 8G"}, nil)

	r := resource.NewResolver(allocations, commands, nil, &fakeShapeResolver{}, nil, logger.NoOpLogFactory)
	job := newTestJob(commandID)
	job.ValidatorProvenance = &models.ValidatorProvenance{DataType: "BIOM"}

	got, err := r.Resolve(context.Background(), job, "")
	require.NoError(t, err)
	require.Equal(t, "-p qiita --mem 8G", got)
}
