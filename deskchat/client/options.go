package client

import (
	"net/http"

	"deskchat/deskchat/utils/logging"

	"go.uber.org/zap"
)

type Option func(*options)

type options struct {
	httpClient  *http.Client
	logger      *zap.Logger
	reconnect   *ReconnectPolicy
	eventBuffer int
}

func buildOptions(opts []Option) options {
	o := options{
		httpClient:  http.DefaultClient,
		logger:      logging.AppLogger,
		eventBuffer: 64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithReconnect makes a session re-join and re-sync after its live channel
// drops. Without it a dropped session stays degraded.
func WithReconnect(p ReconnectPolicy) Option {
	return func(o *options) {
		o.reconnect = &p
	}
}

// WithEventBuffer sizes the session event stream. Events beyond it are dropped.
func WithEventBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBuffer = n
		}
	}
}
