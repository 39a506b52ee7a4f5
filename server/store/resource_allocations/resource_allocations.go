// Package resource_allocations persists the resource-allocation lookup table consulted by the
// ResourceResolver. Unlike the jobs/workflows tables, a resource allocation row has
// no resource identity of its own (no id, no etag, no created_at) - it is a plain configuration
// table keyed by (name, job_type) - so this store talks to the table directly via goqu rather
// than through store.ResourceTable, which requires its rows to implement models.Resource.
package resource_allocations

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store"
)

const tableName = "resource_allocations"

// Store implements store.ResourceAllocationStore.
type Store struct {
	logger.Log
	db *store.DB
}

func NewStore(db *store.DB, logFactory logger.LogFactory) *Store {
	return &Store{
		db:  db,
		Log: logFactory("resource_allocation_store"),
	}
}

// Lookup returns the allocation row for (name, jobType), or gerror.ErrNotFound if no such row
// exists. Callers fall back to models.DefaultResourceAllocationName on a not-found error.
func (s *Store) Lookup(ctx context.Context, txOrNil *store.Tx, name string, jobType models.ResourceJobType) (*models.ResourceAllocation, error) {
	var allocation models.ResourceAllocation
	var found bool
	err := s.db.Read2(txOrNil, func(db store.Reader) error {
		ds := db.From(tableName).Select(&allocation).Where(goqu.Ex{
			"resource_allocation_name":     name,
			"resource_allocation_job_type": jobType,
		}).Limit(1)
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("error generating query: %w", err)
		}
		s.WithFields(logger.Fields{"query": query, "args": args}).Trace()
		found, err = db.ScanStructContext(ctx, &allocation, query, args...)
		if err != nil {
			return store.MakeStandardDBError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("no resource allocation found for name %q job type %q", name, jobType))
	}
	return &allocation, nil
}
