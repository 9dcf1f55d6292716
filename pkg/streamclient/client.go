// Package streamclient consumes the billing event stream and keeps a single
// connection open, reconnecting with capped exponential backoff. Each
// reconnect sends back the connection id from the server's ready event so
// the server replaces the old connection instead of adding another.
package streamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrStarted is returned by Start on a client that was already started
var ErrStarted = errors.New("stream client already started")

// Handler receives every event read from the stream. Events are hints to
// refetch; they may be lost or repeated across reconnects.
type Handler func(Event)

// Config holds client configuration
type Config struct {
	// URL of the SSE endpoint, e.g. http://host/api/v1/events
	URL   string
	Token string

	BaseDelay time.Duration
	MaxDelay  time.Duration
	JitterMax time.Duration

	HTTPClient *http.Client

	// OnOpen is called each time a stream is established
	OnOpen func()
}

// Client is a reconnecting event stream consumer
type Client struct {
	cfg     Config
	handler Handler
	backoff *Backoff
	logger  *zap.Logger

	// connectionID is owned by the run goroutine
	connectionID string

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a stream client
func New(cfg Config, handler Handler, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("stream URL is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	if cfg.HTTPClient == nil {
		// no client timeout: the response body stays open
		cfg.HTTPClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.JitterMax == 0 {
		cfg.JitterMax = DefaultJitterMax
	}

	return &Client{
		cfg:     cfg,
		handler: handler,
		backoff: NewBackoff(cfg.BaseDelay, cfg.MaxDelay, cfg.JitterMax),
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the connection loop. It returns immediately; the loop runs
// until ctx is cancelled or Close is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrStarted
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Close stops the loop and waits until the open connection and any pending
// reconnect timer are gone
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-c.done
	return nil
}

// Done is closed once the loop has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	failures := 0
	for {
		opened, err := c.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if opened {
			failures = 0
		}
		failures++

		delay := c.backoff.Delay(failures)
		c.logger.Info("Event stream lost, reconnecting",
			zap.Int("failures", failures),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// stream holds one connection until it fails. opened reports whether the
// server accepted the stream before it ended.
func (c *Client) stream(ctx context.Context) (opened bool, err error) {
	target, err := c.streamURL()
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return false, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	c.logger.Info("Event stream opened",
		zap.String("url", c.cfg.URL),
		zap.String("connection_id", c.connectionID))
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}

	p := newParser(resp.Body)
	for {
		evt, err := p.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return true, err
		}
		if evt.Type == readyEvent {
			c.ready(evt)
		}
		c.handler(evt)
	}
}

const readyEvent = "ready"

// streamURL is the configured URL plus the connection id of the previous
// stream, if the server handed one out
func (c *Client) streamURL() (string, error) {
	if c.connectionID == "" {
		return c.cfg.URL, nil
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse stream URL: %w", err)
	}
	q := u.Query()
	q.Set("connection_id", c.connectionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) ready(evt Event) {
	var frame struct {
		ConnectionID string `json:"connection_id"`
	}
	if err := json.Unmarshal(evt.Data, &frame); err != nil {
		c.logger.Warn("Malformed ready event", zap.Error(err))
		return
	}
	if frame.ConnectionID != "" {
		c.connectionID = frame.ConnectionID
	}
}
