// Package db opens the SQLite database inside a roadcheck workspace.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	workspaceDirName = ".roadcheck"
	dbFileName       = "roadcheck.db"
)

type Config struct {
	Workspace string
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDirName)
}

// EnsureWorkspace creates the .roadcheck directory if missing and
// returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := workspaceDir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// Path returns the database file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspaceDir(workspace), dbFileName)
}

// Open ensures the workspace exists and opens its database with
// foreign keys enforced.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", Path(cfg.Workspace))
	return sql.Open("sqlite", dsn)
}
