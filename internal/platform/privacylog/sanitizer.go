// Package privacylog keeps key material and correlation metadata out
// of the node's logs. Secret-bearing attributes are redacted at every
// level. Identifying values such as accounts, transaction hashes, and
// blob CIDs are replaced with session-scoped fingerprints above debug
// level, so operators can correlate log lines without the logs naming
// who talked to whom.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
)

const redactedValue = "[REDACTED]"

var (
	bootNonce = randomNonce()

	// identifyingKeys tie a log line to an account or a message. They
	// survive only as fingerprints outside debug level.
	identifyingKeys = map[string]struct{}{
		"account":      {},
		"address":      {},
		"peer":         {},
		"sender":       {},
		"recipient":    {},
		"to":           {},
		"from":         {},
		"cid":          {},
		"tx":           {},
		"hash":         {},
		"content_hash": {},
	}

	sensitiveKeyParts = []string{"token", "secret", "password", "passphrase", "authorization", "auth", "seed", "mnemonic", "private", "plaintext"}
)

type SanitizingHandler struct {
	next slog.Handler
}

func WrapHandler(next slog.Handler) slog.Handler {
	if next == nil {
		return nil
	}
	return &SanitizingHandler{next: next}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, rec slog.Record) error {
	fingerprint := rec.Level > slog.LevelDebug
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(sanitizeAttr(attr, fingerprint))
		return true
	})
	return h.next.Handle(ctx, out)
}

// WithAttrs has no record level to gate on, so bound attributes are
// fingerprinted unconditionally.
func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, sanitizeAttr(attr, true))
	}
	return &SanitizingHandler{next: h.next.WithAttrs(out)}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name)}
}

func sanitizeAttr(attr slog.Attr, fingerprint bool) slog.Attr {
	key := strings.TrimSpace(attr.Key)
	lowerKey := strings.ToLower(key)
	if isSensitiveKey(lowerKey) {
		return slog.String(key, redactedValue)
	}
	if attr.Value.Kind() == slog.KindGroup {
		members := attr.Value.Group()
		out := make([]slog.Attr, 0, len(members))
		for _, member := range members {
			out = append(out, sanitizeAttr(member, fingerprint))
		}
		return slog.Attr{Key: key, Value: slog.GroupValue(out...)}
	}
	if fingerprint && isIdentifyingKey(lowerKey) {
		return slog.String(fingerprintKeyName(key), FingerprintID(valueToString(attr.Value)))
	}
	return attr
}

// FingerprintID maps a value to a short stable tag. The boot nonce
// keeps fingerprints correlatable within one process run but useless
// for dictionary matching across runs.
func FingerprintID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(trimmed + "|" + bootNonce))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isIdentifyingKey(key string) bool {
	_, ok := identifyingKeys[key]
	return ok
}

func isSensitiveKey(key string) bool {
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func fingerprintKeyName(key string) string {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(key)), "_fp") {
		return key
	}
	return key + "_fp"
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case slog.KindUint64:
		return fmt.Sprintf("%d", v.Uint64())
	case slog.KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case slog.KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format("2006-01-02T15:04:05.000000000Z")
	default:
		return fmt.Sprint(v.Any())
	}
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "fallback_nonce"
	}
	return hex.EncodeToString(buf)
}
