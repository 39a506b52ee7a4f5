//go:build !windows
// +build !windows

package app

const (
	defaultWorkDir                = "/var/lib/jobcore/work"
	defaultSQLiteConnectionString = "file:/var/lib/jobcore/db/sqlite.db?cache=shared"
)
