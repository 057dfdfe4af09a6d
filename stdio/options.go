package stdio

import (
	"io"
	"log/slog"
)

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets both streams. A nil argument keeps the current stream.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		WithReader(r)(h)
		WithWriter(w)(h)
	}
}

// WithReader overrides the input stream.
func WithReader(r io.Reader) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
	}
}

// WithWriter overrides the output stream. Writes are serialized, one
// message per line.
func WithWriter(w io.Writer) Option {
	return func(h *Handler) {
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger sets the logger. Logs must not go to the output stream.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.l = l
		}
	}
}

// WithUserProvider overrides how the peer's principal is resolved.
func WithUserProvider(up UserProvider) Option {
	return func(h *Handler) {
		if up != nil {
			h.userProvider = up
		}
	}
}

// WithUserID pins the principal to a fixed user ID.
func WithUserID(id string) Option {
	return WithUserProvider(StaticUser(id))
}
