package static_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services/static"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	commandID := models.NewCommandID()
	path := writeFile(t, `
commands:
  - id: "`+commandID.String()+`"
    name: split_libraries
    kind: artifact_transformation
    outputs:
      - id: demux
        name: Demultiplexed reads
`)

	catalog, err := static.LoadCatalog(path)
	require.NoError(t, err)

	byID, err := catalog.Get(context.Background(), commandID)
	require.NoError(t, err)
	require.Equal(t, "split_libraries", byID.Name)
	require.Equal(t, models.CommandKindArtifactTransformation, byID.Kind)
	require.Len(t, byID.Outputs, 1)

	byName, err := catalog.GetByName(context.Background(), "split_libraries")
	require.NoError(t, err)
	require.Equal(t, commandID, byName.ID)

	_, err = catalog.Get(context.Background(), models.NewCommandID())
	require.Error(t, err)
}

func TestLoadDirectory(t *testing.T) {
	userID := models.NewUserID()
	path := writeFile(t, `
users:
  - id: "`+userID.String()+`"
    role: admin
    email_address: alice@example.com
    email_opt_out: false
    extra_resource_params: "--qos=high"
`)

	dir, err := static.LoadDirectory(path)
	require.NoError(t, err)

	role, err := dir.Role(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, role)

	address, err := dir.EmailAddress(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", address)

	optOut, err := dir.EmailOptOut(context.Background(), userID)
	require.NoError(t, err)
	require.False(t, optOut)

	extra, err := dir.ExtraResourceParams(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, "--qos=high", extra)

	_, err = dir.Role(context.Background(), models.NewUserID())
	require.Error(t, err)
}

func TestArtifactRegistry_Materialize(t *testing.T) {
	registry := static.NewArtifactRegistry()
	jobID := models.NewJobID()
	outputID := models.CommandOutputID("demux")

	id, err := registry.Materialize(context.Background(), jobID, outputID, &models.ArtifactPayload{})
	require.NoError(t, err)
	require.NotEmpty(t, id.String())

	id2, err := registry.Materialize(context.Background(), jobID, outputID, &models.ArtifactPayload{})
	require.NoError(t, err)
	require.NotEqual(t, id, id2)
}

func TestShapeResolver_AlwaysEmpty(t *testing.T) {
	var r static.ShapeResolver
	job := models.NewJob(models.NewWorkflowID(), models.NewUserID(), models.NewCommandID(), nil)
	shape, err := r.Shape(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, models.Shape{}, shape)
}
