package launcher_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildbeaver/buildbeaver/common/logger"
	"github.com/buildbeaver/buildbeaver/common/models"
	"github.com/buildbeaver/buildbeaver/server/services/launcher"
)

type fakeCommandCatalog struct {
	command *models.Command
}

func (f *fakeCommandCatalog) Get(ctx context.Context, id models.CommandID) (*models.Command, error) {
	return f.command, nil
}

func (f *fakeCommandCatalog) GetByName(ctx context.Context, name string) (*models.Command, error) {
	return f.command, nil
}

func newTestJob() *models.Job {
	return models.NewJob(models.NewWorkflowID(), models.NewUserID(), models.NewCommandID(), nil)
}

func TestLocalLauncher_ChainsDependentsIsFalse(t *testing.T) {
	l := launcher.NewLocalLauncher(&fakeCommandCatalog{}, launcher.Config{}, nil, logger.NoOpLogFactory)
	require.False(t, l.ChainsDependents())
}

func TestLocalLauncher_LaunchReturnsPID(t *testing.T) {
	dir := t.TempDir()
	commands := &fakeCommandCatalog{command: &models.Command{
		EnvScript:   "",
		StartScript: "true",
	}}
	l := launcher.NewLocalLauncher(commands, launcher.Config{BaseWorkDir: dir, BaseURL: "http://localhost", PortalDir: "portal"}, nil, logger.NoOpLogFactory)

	job := newTestJob()
	externalID, err := l.Launch(context.Background(), job, "")
	require.NoError(t, err)
	require.NotEmpty(t, externalID)

	pid, err := strconv.Atoi(externalID)
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	_, err = os.Stat(filepath.Join(dir, job.ID.String(), "start"))
	require.NoError(t, err)
}

type fakeUserDirectory struct{ extra string }

func (f *fakeUserDirectory) Role(ctx context.Context, userID models.UserID) (models.Role, error) {
	return models.RoleUser, nil
}
func (f *fakeUserDirectory) EmailOptOut(ctx context.Context, userID models.UserID) (bool, error) {
	return false, nil
}
func (f *fakeUserDirectory) EmailAddress(ctx context.Context, userID models.UserID) (string, error) {
	return "", nil
}
func (f *fakeUserDirectory) ExtraResourceParams(ctx context.Context, userID models.UserID) (string, error) {
	return f.extra, nil
}

type fakeResourceResolver struct{ resolved string }

func (f *fakeResourceResolver) Resolve(ctx context.Context, job *models.Job, extraResourceParams string) (string, error) {
	return f.resolved, nil
}

func TestClusterLauncher_ChainsDependentsIsTrue(t *testing.T) {
	l := launcher.NewClusterLauncher(&fakeCommandCatalog{}, &fakeUserDirectory{}, &fakeResourceResolver{}, launcher.ClusterLauncherConfig{}, logger.NoOpLogFactory)
	require.True(t, l.ChainsDependents())
}

func TestClusterLauncher_LaunchWritesBatchScriptAndSubmits(t *testing.T) {
	dir := t.TempDir()
	sbatch := writeFakeSbatch(t, dir)

	commands := &fakeCommandCatalog{command: &models.Command{
		EnvScript:   "module load qiime2",
		StartScript: "/opt/qiita/start.sh",
	}}
	config := launcher.ClusterLauncherConfig{
		Config:            launcher.Config{BaseWorkDir: dir, BaseURL: "http://localhost", PortalDir: "portal"},
		SchedulerJobIDVar: "SLURM_JOB_ID",
		SbatchPath:        sbatch,
	}
	l := launcher.NewClusterLauncher(commands, &fakeUserDirectory{}, &fakeResourceResolver{resolved: "-p qiita --mem 4G"}, config, logger.NoOpLogFactory)

	job := newTestJob()
	externalID, err := l.Launch(context.Background(), job, "999")
	require.NoError(t, err)
	require.Equal(t, "12345", externalID)

	batch, err := os.ReadFile(filepath.Join(dir, job.ID.String(), job.ID.String()+".txt"))
	require.NoError(t, err)
	require.Contains(t, string(batch), "#!/bin/bash")
	require.Contains(t, string(batch), "module load qiime2")
	require.Contains(t, string(batch), "/opt/qiita/start.sh")
}

// writeFakeSbatch writes an executable shell script standing in for sbatch: it echoes a fixed
// external id so the launcher can be exercised without a real cluster. It does not record its
// invocation args.
func writeFakeSbatch(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sbatch")
	script := "#!/bin/sh\necho \"Submitted batch job 12345\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}
