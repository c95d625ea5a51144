// Package correlation carries request and stream-client identifiers through
// contexts and stamps them onto log records.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// MaxIDLength bounds identifiers accepted from callers.
const MaxIDLength = 64

type (
	requestKey struct{}
	clientKey  struct{}
)

// NewID returns an 8-character hex request id.
func NewID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromHeader returns v when it is a usable request id (printable ASCII, at
// most MaxIDLength bytes) and a fresh id otherwise.
func FromHeader(v string) string {
	if v == "" || len(v) > MaxIDLength {
		return NewID()
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return NewID()
		}
	}
	return v
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// ID returns the request id in ctx; ok is false when there is none.
func ID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestKey{})
}

// WithClientID tags ctx with the id of the stream client it serves.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientKey{}, id)
}

func ClientID(ctx context.Context) (string, bool) {
	return lookup(ctx, clientKey{})
}

func lookup(ctx context.Context, key any) (string, bool) {
	id, ok := ctx.Value(key).(string)
	return id, ok && id != ""
}

// Handler adds "correlation_id" and "client_id" to records whose context
// carries them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if id, ok := ClientID(ctx); ok {
		r.AddAttrs(slog.String("client_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
