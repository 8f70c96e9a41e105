// Package blobstore moves encrypted payload blobs between the node and
// the content-addressed store. Writes go through a single authenticated
// write gate; reads come back through an ordered list of public
// gateways, none of which is trusted for integrity.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrWriteDenied means the write gate refused the upload outright,
// typically because the bearer token is missing, expired, or revoked.
var ErrWriteDenied = errors.New("blobstore: write gate denied the request")

const defaultStoreTimeout = 30 * time.Second

// StoreConfig configures the write-gate client.
type StoreConfig struct {
	// BaseURL is the full upload endpoint; blobs are POSTed to it as-is.
	BaseURL string
	// TokenPath names a file holding the bearer token. Empty means the
	// gate is unauthenticated.
	TokenPath   string
	HTTPTimeout time.Duration
	Logger      *slog.Logger
}

// Store uploads sealed envelopes through the write gate and returns the
// content id the gate assigned.
type Store struct {
	base  string
	httpc *http.Client
	log   *slog.Logger

	mu    sync.RWMutex
	token string
}

func NewStore(cfg StoreConfig) (*Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("blobstore: write gate url is required")
	}
	var token string
	if cfg.TokenPath != "" {
		loaded, err := loadToken(cfg.TokenPath)
		if err != nil {
			return nil, err
		}
		token = loaded
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		base:  base,
		httpc: &http.Client{Timeout: timeout},
		log:   logger,
		token: token,
	}, nil
}

func loadToken(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("blobstore: read token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("blobstore: token file %s is empty", path)
	}
	return token, nil
}

// SetAuthToken replaces the bearer token, so a rotated credential can be
// picked up without restarting the node.
func (s *Store) SetAuthToken(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *Store) authToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Put uploads one serialized envelope and returns the content id the
// gate assigned to it.
func (s *Store) Put(ctx context.Context, blob []byte) (cid string, retErr error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base, bytes.NewReader(blob))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if token := s.authToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("blobstore: write gate: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: http status %d", ErrWriteDenied, resp.StatusCode)
	case resp.StatusCode/100 != 2:
		return "", fmt.Errorf("blobstore: write gate returned http status %d", resp.StatusCode)
	}

	var out struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("blobstore: decode write gate response: %w", err)
	}
	if out.CID == "" {
		return "", errors.New("blobstore: write gate response carried no cid")
	}
	s.log.Debug("blob stored", "cid", out.CID, "bytes", len(blob))
	return out.CID, nil
}

// Ping reports whether the write gate answers at all. Any HTTP response,
// including an auth rejection, counts as reachable.
func (s *Store) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.base, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("blobstore: write gate unreachable: %w", err)
	}
	return resp.Body.Close()
}
