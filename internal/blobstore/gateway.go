package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgermsg/go-node/internal/platform/metrics"
)

// ErrUnavailable means no configured gateway could serve the blob.
var ErrUnavailable = errors.New("blobstore: blob unavailable on all gateways")

const (
	defaultAttemptTimeout = 10 * time.Second
	// maxFetchBytes bounds a single blob read; anything larger than
	// this is not a sealed message envelope.
	maxFetchBytes = 8 << 20
)

// GatewayConfig configures the read path.
type GatewayConfig struct {
	// Bases are URL prefixes the content id is appended to, tried in
	// order, e.g. "https://gw.example/ipfs".
	Bases []string
	// AttemptTimeout bounds each gateway attempt separately from the
	// caller's context.
	AttemptTimeout time.Duration
	Logger         *slog.Logger
}

// Gateway fetches blobs by content id from the first gateway that can
// serve them. Integrity is the caller's problem: the envelope layer
// authenticates everything a gateway could have altered.
type Gateway struct {
	bases   []string
	timeout time.Duration
	httpc   *http.Client
	log     *slog.Logger
}

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	bases := make([]string, 0, len(cfg.Bases))
	for _, base := range cfg.Bases {
		base = strings.TrimRight(strings.TrimSpace(base), "/")
		if base != "" {
			bases = append(bases, base)
		}
	}
	if len(bases) == 0 {
		return nil, errors.New("blobstore: at least one gateway url is required")
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		bases:   bases,
		timeout: timeout,
		httpc:   &http.Client{},
		log:     logger,
	}, nil
}

// Fetch returns the blob stored under cid, trying each gateway in order
// and returning the first successful body.
func (g *Gateway) Fetch(ctx context.Context, cid string) ([]byte, error) {
	if strings.TrimSpace(cid) == "" {
		return nil, errors.New("blobstore: empty cid")
	}
	start := time.Now()

	var attemptErrs []error
	for _, base := range g.bases {
		data, err := g.fetchOne(ctx, base, cid)
		if err == nil {
			metrics.RecordGatewayFetch("ok", time.Since(start))
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		g.log.Debug("gateway fetch failed", "gateway", base, "cid", cid, "error", err)
		attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", base, err))
	}
	metrics.RecordGatewayFetch("unavailable", time.Since(start))
	return nil, fmt.Errorf("%w: cid %s: %w", ErrUnavailable, cid, errors.Join(attemptErrs...))
}

func (g *Gateway) fetchOne(ctx context.Context, base, cid string) (data []byte, retErr error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, base+"/"+url.PathEscape(cid), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := g.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && retErr == nil {
			retErr = closeErr
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxFetchBytes)
	}
	return data, nil
}

// Ping reports whether at least one gateway answers at all. Any HTTP
// response counts, even an error status for the bare base path.
func (g *Gateway) Ping(ctx context.Context) error {
	var attemptErrs []error
	for _, base := range g.bases {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodHead, base, nil)
		if err != nil {
			cancel()
			return err
		}
		resp, err := g.httpc.Do(req)
		cancel()
		if err != nil {
			attemptErrs = append(attemptErrs, fmt.Errorf("%s: %w", base, err))
			continue
		}
		if err := resp.Body.Close(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(attemptErrs...))
}
