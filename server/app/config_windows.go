//go:build windows
// +build windows

package app

const (
	defaultWorkDir                = "C:\\ProgramData\\jobcore\\work"
	defaultSQLiteConnectionString = "file:C:\\ProgramData\\jobcore\\db\\sqlite.db?cache=shared"
)
