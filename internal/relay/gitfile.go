package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v61/github"
)

// GitFileStore commits the payload as a single JSON file in a hosted
// repository. Reads go through the contents API; a write token scoped to
// the repo is required for Put. This backend has visible latency and rate
// limits, so the coordinator treats its Put failures as soft when another
// backend already succeeded.
type GitFileStore struct {
	owner  string
	repo   string
	path   string
	branch string

	gh  *github.Client
	now func() time.Time
}

func newGitFileStore(d Descriptor, opts Options) (*GitFileStore, error) {
	owner, repo, path, branch, err := splitRepoPath(d.Endpoint)
	if err != nil {
		return nil, err
	}

	gh := github.NewClient(opts.HTTPClient)
	if d.Credential != "" {
		gh = gh.WithAuthToken(d.Credential)
	}

	return &GitFileStore{
		owner:  owner,
		repo:   repo,
		path:   path,
		branch: branch,
		gh:     gh,
		now:    opts.now(),
	}, nil
}

// splitRepoPath parses "owner/repo/path/to/file.json" with an optional
// "@branch" suffix.
func splitRepoPath(endpoint string) (owner, repo, path, branch string, err error) {
	s := strings.TrimSpace(endpoint)
	if at := strings.LastIndex(s, "@"); at > 0 {
		branch = s[at+1:]
		s = s[:at]
	}
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", "", fmt.Errorf("gitfile endpoint %q: want owner/repo/path", endpoint)
	}
	return parts[0], parts[1], parts[2], branch, nil
}

func (b *GitFileStore) Kind() Kind { return KindGitFile }

func (b *GitFileStore) Put(ctx context.Context, p Payload) error {
	if err := p.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return &FormatError{Reason: err.Error()}
	}

	// Fetch the current file first: we need its SHA to update, and if the
	// stored content is already identical we skip the commit entirely so a
	// repeated Put stays a no-op.
	existing, sha, err := b.fetch(ctx)
	switch {
	case err == nil:
		if string(existing) == string(content) {
			return nil
		}
	case errors.Is(err, ErrNotFound):
		sha = ""
	default:
		return err
	}

	opt := &github.RepositoryContentFileOptions{
		Message: github.String("update " + b.path),
		Content: content,
	}
	if b.branch != "" {
		opt.Branch = github.String(b.branch)
	}

	if sha == "" {
		_, _, err = b.gh.Repositories.CreateFile(ctx, b.owner, b.repo, b.path, opt)
	} else {
		opt.SHA = github.String(sha)
		_, _, err = b.gh.Repositories.UpdateFile(ctx, b.owner, b.repo, b.path, opt)
	}
	if err != nil {
		return mapGitHubErr(err)
	}
	return nil
}

func (b *GitFileStore) Get(ctx context.Context) (Payload, error) {
	raw, _, err := b.fetch(ctx)
	if err != nil {
		return Payload{}, err
	}
	p, err := parsePayload(raw)
	if err != nil {
		return Payload{}, err
	}
	return checkStored(p, b.now())
}

// fetch returns the decoded file content and its blob SHA.
func (b *GitFileStore) fetch(ctx context.Context) ([]byte, string, error) {
	var opt *github.RepositoryContentGetOptions
	if b.branch != "" {
		opt = &github.RepositoryContentGetOptions{Ref: b.branch}
	}
	file, _, _, err := b.gh.Repositories.GetContents(ctx, b.owner, b.repo, b.path, opt)
	if err != nil {
		return nil, "", mapGitHubErr(err)
	}
	if file == nil {
		return nil, "", &FormatError{Reason: "endpoint refers to a directory, not a file"}
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, "", &FormatError{Reason: "undecodable file content: " + err.Error()}
	}
	return []byte(content), file.GetSHA(), nil
}

func mapGitHubErr(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		if ghErr.Response.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return &TransportError{Status: ghErr.Response.StatusCode, Err: err}
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &TransportError{Status: http.StatusForbidden, Err: err}
	}
	return &TransportError{Err: err}
}
