package job_creation_locks

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store"
)

func init() {
	store.MustDBModel(&models.JobCreationLock{})
}

// JobCreationLockStore implements store.JobCreationLockStore, adapted from the teacher's
// work_item_states row-locking pattern: a lock is a row whose mere existence, once locked
// for update, serializes concurrent callers racing to create a job with the same fingerprint.
type JobCreationLockStore struct {
	table *store.ResourceTable
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *JobCreationLockStore {
	return &JobCreationLockStore{
		table: store.NewResourceTableWithTableName(db, logFactory, "job_creation_locks", &models.JobCreationLock{}),
	}
}

// LockForCreate takes out an exclusive row lock on the lock record for fingerprint, creating the
// record first if it does not already exist. The lock is held for the life of tx; two concurrent
// transactions calling LockForCreate with the same fingerprint will serialize, with the second
// blocking until the first commits or rolls back.
func (d *JobCreationLockStore) LockForCreate(ctx context.Context, tx *store.Tx, fingerprint string) error {
	if tx == nil {
		return fmt.Errorf("error: transaction must be supplied to LockForCreate")
	}
	lock := models.NewJobCreationLock(models.NewTime(time.Now()), fingerprint)
	_, _, err := d.table.FindOrCreate(ctx, tx,
		func(ctx context.Context, tx *store.Tx) (models.Resource, error) {
			existing := &models.JobCreationLock{}
			whereClause := goqu.Ex{"job_creation_lock_id": lock.ID}
			err := d.table.ReadAndLockRowForUpdateWhere(ctx, tx, existing, whereClause)
			if err != nil {
				return nil, err
			}
			return existing, nil
		},
		func(ctx context.Context, tx *store.Tx) (models.Resource, error) {
			err := d.table.Create(ctx, tx, lock)
			if err != nil {
				return nil, fmt.Errorf("error creating job creation lock record: %w", err)
			}
			err = d.table.LockRowForUpdate(ctx, tx, lock.ID.ResourceID)
			if err != nil {
				return nil, fmt.Errorf("error locking new job creation lock record: %w", err)
			}
			return lock, nil
		},
	)
	return err
}
