// Package httpapi exposes a queue over HTTP with gin, streaming job
// progress as server-sent events.
package httpapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/jdziat/extractq/pkg/security"
)

// UserHeader carries the caller's user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

// Option configures the API.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	middleware []gin.HandlerFunc
	maxUpload  int64
	logger     *slog.Logger
}

// WithMiddleware adds gin middleware (auth, logging, etc.) ahead of every route.
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return optionFunc(func(c *config) {
		c.middleware = append(c.middleware, mw...)
	})
}

// MaxUploadBytes limits the uploaded document size. Default: security.MaxUploadSize.
func MaxUploadBytes(n int64) Option {
	return optionFunc(func(c *config) {
		if n > 0 && n <= security.MaxUploadSize {
			c.maxUpload = n
		}
	})
}

// WithLogger sets the logger for request failures.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}
