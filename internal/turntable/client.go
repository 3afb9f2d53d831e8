// Package turntable talks to the turntable controller over its small HTTP
// API and provides the bounded idle wait used between captures.
package turntable

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/timeutil"
)

// ErrTransport wraps every failed exchange with the controller: connection
// errors, non-2xx statuses and undecodable bodies.
var ErrTransport = errors.New("turntable transport error")

const (
	DefaultHTTPTimeout  = 5 * time.Second
	DefaultPollInterval = 200 * time.Millisecond
	DefaultWaitTimeout  = 30 * time.Second
)

// State is the motion state reported by /status.
type State string

const (
	Idle    State = "idle"
	Moving  State = "moving"
	Unknown State = "unknown"
)

// Status is the /status document. Angle is reported by some firmware
// revisions only.
type Status struct {
	State string   `json:"state"`
	Angle *float64 `json:"angle,omitempty"`
}

// Config configures a Client. Zero values are replaced with defaults.
type Config struct {
	BaseURL    string
	HTTPClient httputil.HTTPClient // defaults to a StandardClient with Timeout
	Timeout    time.Duration       // per request, default 5s
	Clock      timeutil.Clock
	Logger     monitoring.Logger
}

// Client is a turntable controller client.
type Client struct {
	baseURL string
	http    httputil.HTTPClient
	clock   timeutil.Clock
	log     monitoring.Logger
}

// NewClient creates a client for the controller at cfg.BaseURL.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httputil.NewStandardClient(timeout)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		clock:   clock,
		log:     monitoring.OrDiscard(cfg.Logger),
	}
}

// BaseURL returns the controller root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// RequestRotation asks the table to move to an absolute angle. It does not
// wait for the move; callers pair it with WaitUntilIdle.
func (c *Client) RequestRotation(ctx context.Context, deg float64) error {
	c.log.Diagf("request rotate to %s deg", formatDeg(deg))
	return c.command(ctx, "/rotate", url.Values{"deg": {formatDeg(deg)}})
}

// Step asks the table to move by a relative angle.
func (c *Client) Step(ctx context.Context, deg float64) error {
	c.log.Diagf("request step %s deg", formatDeg(deg))
	return c.command(ctx, "/step", url.Values{"deg": {formatDeg(deg)}})
}

// Home asks the table to return to its reference position.
func (c *Client) Home(ctx context.Context) error {
	c.log.Diagf("request home")
	return c.command(ctx, "/home", nil)
}

// Status fetches the raw /status document.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	resp, err := c.get(ctx, "/status", nil)
	if err != nil {
		return Status{}, err
	}
	if err := httputil.ReadJSON(resp, &st); err != nil {
		return Status{}, fmt.Errorf("%w: /status: %w", ErrTransport, err)
	}
	return st, nil
}

// QueryState maps /status onto Idle, Moving or Unknown. On error the state
// is Unknown.
func (c *Client) QueryState(ctx context.Context) (State, error) {
	st, err := c.Status(ctx)
	if err != nil {
		return Unknown, err
	}
	switch State(strings.ToLower(strings.TrimSpace(st.State))) {
	case Idle:
		return Idle, nil
	case Moving:
		return Moving, nil
	default:
		return Unknown, nil
	}
}

// WaitUntilIdle polls QueryState every interval until the table reports
// Idle or timeout elapses. Failed queries count as not idle. It returns
// false on timeout or when ctx is cancelled.
func (c *Client) WaitUntilIdle(ctx context.Context, interval, timeout time.Duration) bool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	start := c.clock.Now()
	polls := 0
	for c.clock.Since(start) < timeout {
		if ctx.Err() != nil {
			c.log.Opsf("warning: idle wait cancelled after %d polls: %v", polls, ctx.Err())
			return false
		}
		polls++
		state, err := c.QueryState(ctx)
		switch {
		case err != nil:
			c.log.Tracef("status poll %d failed: %v", polls, err)
		case state == Idle:
			c.log.Tracef("turntable idle after %d polls", polls)
			return true
		default:
			c.log.Tracef("status poll %d: %s", polls, state)
		}
		c.clock.Sleep(interval)
	}
	c.log.Opsf("warning: timeout after %s waiting for turntable to be idle (%d polls)", timeout, polls)
	return false
}

func (c *Client) command(ctx context.Context, path string, params url.Values) error {
	resp, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	// Commands may answer with a JSON acknowledgement; the body is not needed.
	if _, err := httputil.ReadBody(resp); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTransport, path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	resp, err := httputil.Get(ctx, c.http, u)
	if err != nil {
		c.log.Opsf("error: HTTP error to %s: %v", u, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, u, err)
	}
	if err := httputil.CheckStatus(resp); err != nil {
		resp.Body.Close()
		c.log.Opsf("error: HTTP error to %s: %v", u, err)
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return resp, nil
}

func formatDeg(deg float64) string {
	return strconv.FormatFloat(deg, 'f', -1, 64)
}
