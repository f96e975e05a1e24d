package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/worklift/worklift/internal/port/hosting"
)

func TestCreatePR(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/pulls" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["head"] != "wl/fix" || body["base"] != "main" {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 42, "html_url": "https://github.com/acme/widgets/pull/42", "state": "open"}`))
	}))
	defer srv.Close()

	p := New(srv.URL, "tok")
	pr, err := p.CreatePR(context.Background(), hosting.CreatePRRequest{
		Repo:       hosting.RepoInfo{Owner: "acme", Repo: "widgets"},
		Title:      "Fix widget parsing",
		HeadBranch: "wl/fix",
		BaseBranch: "main",
	})
	if err != nil {
		t.Fatalf("CreatePR: %v", err)
	}
	if pr.Number != 42 || pr.State != hosting.PROpen {
		t.Fatalf("unexpected PR %+v", pr)
	}
}

func TestGetPRMergedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"number": 7, "html_url": "u", "state": "closed", "merged": true, "merge_commit_sha": "deadbeef"}`))
	}))
	defer srv.Close()

	p := New(srv.URL, "tok")
	pr, err := p.GetPR(context.Background(), hosting.RepoInfo{Owner: "a", Repo: "b"}, 7)
	if err != nil {
		t.Fatalf("GetPR: %v", err)
	}
	if pr.State != hosting.PRMerged {
		t.Fatalf("state = %q, want merged", pr.State)
	}
	if pr.MergeCommit != "deadbeef" {
		t.Fatalf("merge commit = %q", pr.MergeCommit)
	}
}

func TestListPRsForBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("head"); got != "acme:wl/fix" {
			t.Errorf("head filter = %q", got)
		}
		_, _ = w.Write([]byte(`[{"number": 2, "state": "open"}, {"number": 1, "state": "closed"}]`))
	}))
	defer srv.Close()

	p := New(srv.URL, "tok")
	prs, err := p.ListPRsForBranch(context.Background(), hosting.RepoInfo{Owner: "acme", Repo: "widgets"}, "wl/fix")
	if err != nil {
		t.Fatalf("ListPRsForBranch: %v", err)
	}
	if len(prs) != 2 || prs[0].Number != 2 || prs[1].State != hosting.PRClosed {
		t.Fatalf("unexpected PRs %+v", prs)
	}
}

func TestTokenErrorsAreClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(srv.URL, "bad")
	err := p.CheckToken(context.Background())
	var herr *hosting.Error
	if !errors.As(err, &herr) || herr.Kind != hosting.KindTokenInvalid {
		t.Fatalf("expected token_invalid hosting error, got %v", err)
	}

	empty := New(srv.URL, "")
	err = empty.CheckToken(context.Background())
	if !errors.As(err, &herr) || herr.Kind != hosting.KindTokenInvalid {
		t.Fatalf("expected token_invalid for empty token, got %v", err)
	}
}
