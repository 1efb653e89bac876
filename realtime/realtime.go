// Package realtime subscribes to the remote store's change feed. The feed
// carries hints only ("something changed"), never data; every hint kicks the
// reconciler into an immediate pull. The connection is best effort: when it
// drops, the listener redials with capped exponential backoff, and the
// periodic reconcile loop covers the gap.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/shopsync/shopsync/logging"
)

// Hint is the decoded change notification.
type hint struct {
	Type string `json:"type"`
}

// Options configures a Listener.
type Options struct {
	// InitialBackoff is the redial delay after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the redial delay.
	MaxBackoff time.Duration

	Dialer *websocket.Dialer
	Logger *logging.Logger
}

// Listener maintains the change-feed subscription.
type Listener struct {
	url    string
	onHint func()
	opts   Options
	logger *logging.Logger
}

// New creates a Listener for the store at endpoint (an http or https URL;
// the feed lives at its /changes path). onHint fires once per change
// notification, from the read goroutine.
func New(endpoint string, onHint func(), opts *Options) (*Listener, error) {
	feed, err := feedURL(endpoint)
	if err != nil {
		return nil, err
	}
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	logger := o.Logger
	if logger == nil {
		logger = logging.WithComponent("realtime")
	}
	return &Listener{url: feed, onHint: onHint, opts: o, logger: logger}, nil
}

// feedURL maps the store endpoint to its websocket feed address.
func feedURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/changes"
	return u.String(), nil
}

// Run keeps the subscription alive until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	delay := l.opts.InitialBackoff
	for {
		connected, err := l.listen(ctx)
		if connected {
			// A healthy session resets the redial schedule.
			delay = l.opts.InitialBackoff
		}
		if err != nil && ctx.Err() == nil {
			l.logger.Warn("change feed disconnected",
				slog.String("error", err.Error()),
				slog.Duration("redial_in", delay),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextDelay(delay, l.opts.MaxBackoff)
	}
}

// listen dials once and consumes hints until the connection fails or ctx is
// cancelled. connected reports whether the dial succeeded.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, _, err := l.opts.Dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	l.logger.Info("change feed connected")

	// Unblock the read loop on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var h hint
		if err := json.Unmarshal(msg, &h); err != nil {
			continue
		}
		if h.Type == "data_changed" {
			l.onHint()
		}
	}
}

func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
