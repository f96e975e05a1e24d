// Package hosting defines the port for git hosting services (pull requests,
// token validation).
package hosting

import (
	"context"
	"fmt"
)

// RepoInfo identifies a remote repository.
type RepoInfo struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// PRState is the lifecycle state of a pull request.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// PullRequest is a hosting-service pull request.
type PullRequest struct {
	Number      int64   `json:"number"`
	URL         string  `json:"url"`
	State       PRState `json:"state"`
	MergeCommit string  `json:"merge_commit,omitempty"`
}

// CreatePRRequest holds the fields for opening a pull request.
type CreatePRRequest struct {
	Repo       RepoInfo
	Title      string
	Body       string
	HeadBranch string
	BaseBranch string
}

// Provider is the port interface for a git hosting service.
type Provider interface {
	// CheckToken verifies the configured credential is usable.
	CheckToken(ctx context.Context) error

	// CreatePR opens a pull request and returns it.
	CreatePR(ctx context.Context, req CreatePRRequest) (*PullRequest, error)

	// ListPRsForBranch returns all pull requests whose head is the branch,
	// newest first, regardless of state.
	ListPRsForBranch(ctx context.Context, repo RepoInfo, branch string) ([]PullRequest, error)

	// GetPR fetches the current state of one pull request.
	GetPR(ctx context.Context, repo RepoInfo, number int64) (*PullRequest, error)
}

// ErrorKind is a machine-readable class for hosting failures.
type ErrorKind string

const (
	KindTokenInvalid ErrorKind = "token_invalid"
	KindNotFound     ErrorKind = "not_found"
	KindRateLimited  ErrorKind = "rate_limited"
	KindUnavailable  ErrorKind = "unavailable"
)

// Error is a classified hosting-service failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hosting: %s: %s", e.Kind, e.Message)
}

// Errorf builds a classified hosting error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
