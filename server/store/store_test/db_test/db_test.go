package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/gerror"
	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/store/store_test"
	"github.com/buildbeaver/buildbeaver/server/store/workflows"
)

// TestResourceAlreadyExistsThrown tests that MakeStandardDBError provides the correct error code when we attempt to
// create a unique resource that already exists
func TestResourceAlreadyExistsThrown(t *testing.T) {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.Nil(t, err)
	defer cleanup()
	workflowStore := workflows.NewStore(db, logger.NoOpLogFactory)

	workflow := models.NewWorkflow(models.NewUserID(), models.ResourceName("frankieboi"))

	// First workflow creation will pass
	err = workflowStore.Create(context.Background(), nil, workflow)
	require.Nil(t, err)

	// Second creation of the same workflow should fail with ErrCodeAlreadyExists
	err = workflowStore.Create(context.Background(), nil, workflow)
	require.NotNil(t, err)
	require.NotNil(t, gerror.ToAlreadyExists(err))
}

// TestResourceNotFoundThrown tests that MakeStandardDBError provides the correct error code when we attempt to
// retrieve a resource that doesn't exist.
func TestResourceNotFoundThrown(t *testing.T) {
	db, cleanup, err := store_test.Connect(logger.NoOpLogFactory)
	require.Nil(t, err)
	defer cleanup()
	workflowStore := workflows.NewStore(db, logger.NoOpLogFactory)

	_, err = workflowStore.Read(context.Background(), nil, models.NewWorkflowID())
	require.NotNil(t, err)
	require.NotNil(t, gerror.ToNotFound(err))
}
