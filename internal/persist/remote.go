package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"lumichat/internal/domain"
	"lumichat/internal/httpx"
)

const defaultRemoteTimeout = 60 * time.Second

// HTTPRemote implements domain.RemoteStore and domain.BlobStore against the
// per-user document API: session documents under the user's namespace and a
// blob endpoint that returns public URLs.
type HTTPRemote struct {
	apiBase string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

type RemoteConfig struct {
	APIBase string
	APIKey  string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewHTTPRemote(cfg RemoteConfig) *HTTPRemote {
	if cfg.Client == nil {
		cfg.Client = httpx.SharedClient(defaultRemoteTimeout)
	}
	return &HTTPRemote{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (r *HTTPRemote) sessionURL(userID, sessionID string) string {
	return fmt.Sprintf("%s/users/%s/chats/%s", r.apiBase, url.PathEscape(userID), url.PathEscape(sessionID))
}

func (r *HTTPRemote) collectionURL(userID string) string {
	return fmt.Sprintf("%s/users/%s/chats", r.apiBase, url.PathEscape(userID))
}

// PutSession writes the full session document, overwriting any previous
// version. Not retried: a transient failure surfaces to the caller, which
// logs and continues.
func (r *HTTPRemote) PutSession(ctx context.Context, userID string, session domain.ChatSession) error {
	body, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.sessionURL(userID, session.ID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("put session %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// ListSessions fetches every session document for the user, ordered by
// creation timestamp ascending. Transient failures are retried; the caller
// treats a final error as "no remote history".
func (r *HTTPRemote) ListSessions(ctx context.Context, userID string) ([]domain.ChatSession, error) {
	resp, err := httpx.DoWithRetry(ctx, r.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.collectionURL(userID), nil)
		if err != nil {
			return nil, err
		}
		r.setHeaders(req)
		return req, nil
	}, r.logger)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list sessions %d: %s", resp.StatusCode, string(respBody))
	}

	var sessions []domain.ChatSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Timestamp < sessions[j].Timestamp
	})
	return sessions, nil
}

func (r *HTTPRemote) DeleteSession(ctx context.Context, userID, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.sessionURL(userID, sessionID), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete session %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

type blobRequest struct {
	Name string `json:"name"`
	Data string `json:"data"`
}

type blobResponse struct {
	URL string `json:"url"`
}

// PutBlob uploads an inline payload under "{userID}/{timestamp}_{filename}"
// and returns the public URL.
func (r *HTTPRemote) PutBlob(ctx context.Context, userID, inlineData, filename string) (string, error) {
	name := fmt.Sprintf("%s/%d_%s", userID, time.Now().UnixMilli(), filename)
	body, err := json.Marshal(blobRequest{Name: name, Data: inlineData})
	if err != nil {
		return "", fmt.Errorf("marshal blob: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiBase+"/blobs", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	r.setHeaders(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("put blob: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("put blob %d: %s", resp.StatusCode, string(respBody))
	}

	var out blobResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode blob response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("blob response missing url")
	}
	return out.URL, nil
}

func (r *HTTPRemote) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}
