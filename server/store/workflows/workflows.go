package workflows

import (
	"context"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store"
)

func init() {
	_ = models.MutableResource(&models.Workflow{})
	store.MustDBModel(&models.Workflow{})
}

type WorkflowStore struct {
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *WorkflowStore {
	return &WorkflowStore{
		table: store.NewResourceTable(db, logFactory, &models.Workflow{}),
	}
}

// Create a new workflow.
// Returns gerror.ErrAlreadyExists if a workflow with matching unique properties already exists.
func (d *WorkflowStore) Create(ctx context.Context, txOrNil *store.Tx, workflow *models.Workflow) error {
	return d.table.Create(ctx, txOrNil, workflow)
}

// Read an existing workflow, looking it up by ResourceID.
// Returns gerror.ErrNotFound if the workflow does not exist.
func (d *WorkflowStore) Read(ctx context.Context, txOrNil *store.Tx, id models.WorkflowID) (*models.Workflow, error) {
	workflow := &models.Workflow{}
	return workflow, d.table.ReadByID(ctx, txOrNil, id.ResourceID, workflow)
}

// Update an existing workflow with optimistic locking.
// Returns gerror.ErrOptimisticLockFailed if there is an optimistic lock mismatch.
func (d *WorkflowStore) Update(ctx context.Context, txOrNil *store.Tx, workflow *models.Workflow) error {
	return d.table.UpdateByID(ctx, txOrNil, workflow)
}

// ListByUserID lists all workflows owned by userID. Use cursor to page through results.
func (d *WorkflowStore) ListByUserID(ctx context.Context, txOrNil *store.Tx, userID models.UserID, pagination models.Pagination) ([]*models.Workflow, *models.Cursor, error) {
	workflowSelect := goqu.
		From(d.table.TableName()).
		Select(&models.Workflow{}).
		Where(goqu.Ex{"workflow_user_id": userID})
	var result []*models.Workflow
	cursor, err := d.table.ListIn(ctx, txOrNil, &result, pagination, workflowSelect)
	if err != nil {
		return nil, nil, err
	}
	return result, cursor, nil
}
