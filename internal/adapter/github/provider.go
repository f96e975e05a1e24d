// Package github implements the hosting provider port against the GitHub
// REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worklift/worklift/internal/port/hosting"
)

// Provider talks to the GitHub REST API with a personal access token.
type Provider struct {
	baseURL string
	token   string
	client  *http.Client
}

// New creates a Provider. baseURL defaults to the public GitHub API.
func New(baseURL, token string) *Provider {
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	return &Provider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type prResponse struct {
	Number   int64      `json:"number"`
	HTMLURL  string     `json:"html_url"`
	State    string     `json:"state"`
	Merged   bool       `json:"merged"`
	MergeSHA string     `json:"merge_commit_sha"`
	MergedAt *time.Time `json:"merged_at"`
}

func (r prResponse) toPullRequest() *hosting.PullRequest {
	state := hosting.PROpen
	switch {
	case r.Merged || r.MergedAt != nil:
		state = hosting.PRMerged
	case r.State == "closed":
		state = hosting.PRClosed
	}
	pr := &hosting.PullRequest{Number: r.Number, URL: r.HTMLURL, State: state}
	if state == hosting.PRMerged {
		pr.MergeCommit = r.MergeSHA
	}
	return pr
}

// CheckToken verifies the configured credential by fetching the
// authenticated user.
func (p *Provider) CheckToken(ctx context.Context) error {
	if p.token == "" {
		return hosting.Errorf(hosting.KindTokenInvalid, "no GitHub token configured")
	}
	var out struct {
		Login string `json:"login"`
	}
	return p.do(ctx, http.MethodGet, "/user", nil, &out)
}

// CreatePR opens a pull request.
func (p *Provider) CreatePR(ctx context.Context, req hosting.CreatePRRequest) (*hosting.PullRequest, error) {
	body := map[string]string{
		"title": req.Title,
		"body":  req.Body,
		"head":  req.HeadBranch,
		"base":  req.BaseBranch,
	}
	var out prResponse
	path := fmt.Sprintf("/repos/%s/%s/pulls", req.Repo.Owner, req.Repo.Repo)
	if err := p.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.toPullRequest(), nil
}

// ListPRsForBranch returns all pull requests whose head is the branch,
// newest first, regardless of state.
func (p *Provider) ListPRsForBranch(ctx context.Context, repo hosting.RepoInfo, branch string) ([]hosting.PullRequest, error) {
	var out []prResponse
	path := fmt.Sprintf("/repos/%s/%s/pulls?state=all&sort=created&direction=desc&head=%s:%s",
		repo.Owner, repo.Repo, repo.Owner, branch)
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	prs := make([]hosting.PullRequest, 0, len(out))
	for _, r := range out {
		prs = append(prs, *r.toPullRequest())
	}
	return prs, nil
}

// GetPR fetches the current state of one pull request.
func (p *Provider) GetPR(ctx context.Context, repo hosting.RepoInfo, number int64) (*hosting.PullRequest, error) {
	var out prResponse
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", repo.Owner, repo.Repo, number)
	if err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.toPullRequest(), nil
}

func (p *Provider) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return hosting.Errorf(hosting.KindUnavailable, "github request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" {
			return hosting.Errorf(hosting.KindRateLimited, "github rate limit exhausted")
		}
		return hosting.Errorf(hosting.KindTokenInvalid, "github rejected credentials (%d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return hosting.Errorf(hosting.KindNotFound, "github: %s not found", path)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return hosting.Errorf(hosting.KindUnavailable, "github returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decode response: %w", err)
	}
	return nil
}
