package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/seantiz/qexec/internal/backend"
)

type submitRequest struct {
	Target  string `json:"target,omitempty"`
	Format  string `json:"format"`
	Program any    `json:"program"`
	Shots   int    `json:"shots"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type jobStatus struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Counts    map[string]int `json:"counts,omitempty"`
	Error     string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 512

func (b *Backend) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.Endpoint+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if b.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Token)
	}
	return req, nil
}

// do sends req and decodes a JSON response into out. Transport failures,
// throttling and server errors are retryable; other client errors are not.
func (b *Backend) do(req *http.Request, out any) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return backend.Retryable(b.id, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		cause := fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return backend.Retryable(b.id, cause)
		}
		return backend.Terminal(b.id, cause)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backend.Retryable(b.id, fmt.Errorf("decode %s response: %w", req.URL.Path, err))
	}
	return nil
}

func (b *Backend) submit(ctx context.Context, program any, shots int) (string, error) {
	req, err := b.newRequest(ctx, http.MethodPost, "/jobs", submitRequest{
		Target:  b.cfg.Target,
		Format:  b.cfg.Format,
		Program: program,
		Shots:   shots,
	})
	if err != nil {
		return "", backend.Terminal(b.id, err)
	}
	var resp submitResponse
	if err := b.do(req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", backend.Retryable(b.id, fmt.Errorf("submit: provider returned no job id"))
	}
	return resp.ID, nil
}

func (b *Backend) status(ctx context.Context, jobID string) (jobStatus, error) {
	req, err := b.newRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return jobStatus{}, backend.Terminal(b.id, err)
	}
	var st jobStatus
	if err := b.do(req, &st); err != nil {
		return jobStatus{}, err
	}
	return st, nil
}

func (b *Backend) cancel(ctx context.Context, jobID string) error {
	req, err := b.newRequest(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	return b.do(req, nil)
}

func (b *Backend) ping(ctx context.Context) error {
	req, err := b.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return b.do(req, nil)
}
