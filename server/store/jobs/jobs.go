package jobs

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store"
)

func init() {
	_ = models.MutableResource(&models.Job{})
	store.MustDBModel(&models.Job{})
}

type JobStore struct {
	db    *store.DB
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *JobStore {
	return &JobStore{
		db:    db,
		table: store.NewResourceTable(db, logFactory, &models.Job{}),
	}
}

// Create a new job.
// Returns gerror.ErrAlreadyExists if a job with matching unique properties already exists.
func (d *JobStore) Create(ctx context.Context, txOrNil *store.Tx, job *models.Job) error {
	return d.table.Create(ctx, txOrNil, job)
}

// Read an existing job, looking it up by ResourceID.
// Returns gerror.ErrNotFound if the job does not exist.
func (d *JobStore) Read(ctx context.Context, txOrNil *store.Tx, id models.JobID) (*models.Job, error) {
	job := &models.Job{}
	return job, d.table.ReadByID(ctx, txOrNil, id.ResourceID, job)
}

// Update an existing job with optimistic locking. Overrides all previous values using the supplied model.
// Returns gerror.ErrOptimisticLockFailed if there is an optimistic lock mismatch.
func (d *JobStore) Update(ctx context.Context, txOrNil *store.Tx, job *models.Job) error {
	return d.table.UpdateByID(ctx, txOrNil, job)
}

// ListByWorkflowID gets all jobs that are associated with the specified workflow id.
func (d *JobStore) ListByWorkflowID(ctx context.Context, txOrNil *store.Tx, workflowID models.WorkflowID) ([]*models.Job, error) {
	jobSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Job{}).
		Where(goqu.Ex{"job_workflow_id": workflowID})
	pagination := models.NewPagination(10000, nil)
	var result []*models.Job
	_, err := d.table.ListIn(ctx, txOrNil, &result, pagination, jobSelect)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReadByExternalID looks up the single job carrying externalID, the launcher-assigned OS pid or
// cluster scheduler job id MarkExternalID wrote. Returns gerror.ErrNotFound if none matches.
func (d *JobStore) ReadByExternalID(ctx context.Context, txOrNil *store.Tx, externalID string) (*models.Job, error) {
	jobSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Job{}).
		Where(goqu.Ex{"job_external_id": externalID})
	pagination := models.NewPagination(1, nil)
	var result []*models.Job
	_, err := d.table.ListIn(ctx, txOrNil, &result, pagination, jobSelect)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("job with external id %q not found", externalID))
	}
	return result[0], nil
}

// ListByStatus returns all jobs that have the specified status, regardless of owner or workflow.
// Use cursor to page through results, if any.
func (d *JobStore) ListByStatus(ctx context.Context, txOrNil *store.Tx, status models.JobStatus, pagination models.Pagination) ([]*models.Job, *models.Cursor, error) {
	jobSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Job{}).
		Where(goqu.Ex{"job_status": status})
	var result []*models.Job
	cursor, err := d.table.ListIn(ctx, txOrNil, &result, pagination, jobSelect)
	if err != nil {
		return nil, nil, err
	}
	return result, cursor, nil
}

// ListByCommandAndStatus finds jobs matching commandID restricted to the supplied statuses.
func (d *JobStore) ListByCommandAndStatus(
	ctx context.Context,
	txOrNil *store.Tx,
	commandID models.CommandID,
	statuses []models.JobStatus,
) ([]*models.Job, error) {
	jobSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Job{}).
		Where(goqu.Ex{
			"job_command_id": commandID,
			"job_status":     goqu.Op{"in": statuses},
		})
	pagination := models.NewPagination(10000, nil)
	var result []*models.Job
	_, err := d.table.ListIn(ctx, txOrNil, &result, pagination, jobSelect)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListChildren returns every job with an edge in jobs_depend_on_jobs whose parent is jobID.
func (d *JobStore) ListChildren(ctx context.Context, txOrNil *store.Tx, jobID models.JobID) ([]*models.Job, error) {
	jobSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Job{}).
		Join(
			goqu.T("jobs_depend_on_jobs"),
			goqu.On(goqu.Ex{"jobs.job_id": goqu.I("jobs_depend_on_jobs.jobs_depend_on_jobs_child_job_id")}),
		).
		Where(goqu.Ex{"jobs_depend_on_jobs.jobs_depend_on_jobs_parent_job_id": jobID})
	pagination := models.NewPagination(10000, nil)
	var result []*models.Job
	_, err := d.table.ListIn(ctx, txOrNil, &result, pagination, jobSelect)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a job row outright.
func (d *JobStore) Delete(ctx context.Context, txOrNil *store.Tx, id models.JobID) error {
	return d.table.DeleteByID(ctx, txOrNil, id.ResourceID)
}

// CreateEdge records a workflow edge between a parent and child job. One row is written per
// (parent, output_name, parameter_name) triple, since a single edge can thread more than one
// parameter in rare cases (a child reusing the same predecessor output under two names).
func (d *JobStore) CreateEdge(ctx context.Context, txOrNil *store.Tx, edge models.WorkflowEdge) error {
	return d.db.Write2(txOrNil, func(db store.Writer) error {
		_, err := db.Insert(goqu.T("jobs_depend_on_jobs")).Rows(
			goqu.Record{
				"jobs_depend_on_jobs_parent_job_id":  edge.ParentJobID,
				"jobs_depend_on_jobs_child_job_id":   edge.ChildJobID,
				"jobs_depend_on_jobs_output_name":    edge.OutputName,
				"jobs_depend_on_jobs_parameter_name": edge.ParameterName,
			},
		).Executor().ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("error creating workflow edge: %w", store.MakeStandardDBError(err))
		}
		return nil
	})
}
