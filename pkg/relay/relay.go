// Package relay drives Shelly Gen2 switches over their HTTP RPC interface.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
)

// DefaultPulseWidth is how long a switch stays on during a pulse.
const DefaultPulseWidth = 200 * time.Millisecond

// ErrUnknownSwitch is returned for a switch name with no configured endpoint.
var ErrUnknownSwitch = errors.New("unknown switch")

// RelayError is an actuator failure on one switch.
type RelayError struct {
	Switch string
	Err    error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("switch %s: %v", e.Switch, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }

// Client talks to a set of named switches.
type Client struct {
	endpoints  map[string]string
	pulseWidth time.Duration
	httpClient *http.Client
}

// New creates a client. Endpoints are host names, IP addresses or base URLs
// keyed by switch name.
func New(endpoints map[string]string, pulseWidth, timeout time.Duration) *Client {
	if pulseWidth <= 0 {
		pulseWidth = DefaultPulseWidth
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	normalized := make(map[string]string, len(endpoints))
	for name, ep := range endpoints {
		if ep == "" {
			continue
		}
		if !strings.Contains(ep, "://") {
			ep = "http://" + ep
		}
		normalized[name] = strings.TrimSuffix(ep, "/")
	}

	return &Client{
		endpoints:  normalized,
		pulseWidth: pulseWidth,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Names returns the configured switch names in order.
func (c *Client) Names() []string {
	names := make([]string, 0, len(c.endpoints))
	for name := range c.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Pulse switches a relay on, waits the pulse width and switches it off.
func (c *Client) Pulse(ctx context.Context, name string) error {
	err := c.pulse(ctx, name)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RelayPulses.WithLabelValues(name, status).Inc()

	return err
}

func (c *Client) pulse(ctx context.Context, name string) error {
	log := logging.Component("relay").WithField("switch", name)

	if err := c.Set(ctx, name, true); err != nil {
		log.WithError(err).Warn("Switch on failed")
		return err
	}

	timer := time.NewTimer(c.pulseWidth)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	// Always try to release the relay, even when the context ended mid-pulse.
	offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.httpClient.Timeout)
	defer cancel()
	if err := c.Set(offCtx, name, false); err != nil {
		log.WithError(err).Warn("Switch off failed")
		return err
	}

	log.Debug("Pulsed")
	return ctx.Err()
}

type switchSet struct {
	ID int  `json:"id"`
	On bool `json:"on"`
}

// Set switches a relay on or off.
func (c *Client) Set(ctx context.Context, name string, on bool) error {
	base, ok := c.endpoints[name]
	if !ok {
		return &RelayError{Switch: name, Err: ErrUnknownSwitch}
	}

	body, err := json.Marshal(switchSet{ID: 0, On: on})
	if err != nil {
		return &RelayError{Switch: name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/rpc/Switch.Set", bytes.NewReader(body))
	if err != nil {
		return &RelayError{Switch: name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RelayError{Switch: name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &RelayError{Switch: name, Err: fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(msg)))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
