// Package project defines the Project parent entity.
//
// Projects are plain persistence records here: Worklift's engine only needs
// the repository path and the optional lifecycle scripts an attempt runs.
package project

import (
	"time"

	"github.com/google/uuid"
)

// Project is a git repository that tasks are worked on.
type Project struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	GitRepoPath   string    `json:"git_repo_path"`
	SetupScript   string    `json:"setup_script,omitempty"`
	CleanupScript string    `json:"cleanup_script,omitempty"`
	DevScript     string    `json:"dev_script,omitempty"`
	// ScriptLanguage selects the interpreter for the lifecycle scripts;
	// empty means bash.
	ScriptLanguage string `json:"script_language,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
