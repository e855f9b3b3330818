// Package ntpcheck wraps an SNTP client library into the startup gate
// and periodic health-check the engine needs: a fatal check at
// process start, then non-fatal samples on a configured cadence.
package ntpcheck

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// maxRingSamples bounds the in-memory offset history (§3 of
// SPEC_FULL.md caps the ring at 100 samples).
const maxRingSamples = 100

// Checker queries a configured NTP server and keeps a bounded history
// of the absolute offsets it has observed. Safe for concurrent use.
type Checker struct {
	serverURL string

	mu      sync.Mutex
	offsets []time.Duration
	lastAt  time.Time
}

// New creates a Checker bound to serverURL (e.g. "pool.ntp.org").
func New(serverURL string) *Checker {
	return &Checker{serverURL: serverURL}
}

// Sample performs a single SNTP round trip and returns the absolute
// clock offset, without touching the ring. Callers whose caller owns
// when/where a sample gets recorded — e.g. an auxiliary goroutine that
// hands the value off to a single-threaded owner over a channel — use
// this instead of Query, then call Record themselves once the value
// reaches that owner.
func (c *Checker) Sample(ctx context.Context) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(c.serverURL, ntp.QueryOptions{Version: 3, Timeout: 5 * time.Second})
	if err != nil {
		return 0, fmt.Errorf("ntpcheck: querying %q: %w", c.serverURL, err)
	}
	if err := resp.Validate(); err != nil {
		return 0, fmt.Errorf("ntpcheck: validating response from %q: %w", c.serverURL, err)
	}
	offset := resp.ClockOffset
	if offset < 0 {
		offset = -offset
	}
	return offset, nil
}

// Query performs a single SNTP round trip, records the absolute
// offset into the ring, and returns it. A real network/protocol
// failure from the client library (timeout, unreachable host, bad
// response) is surfaced as an ordinary error — callers decide
// fatality, per the table in SPEC_FULL.md §7.
func (c *Checker) Query(ctx context.Context) (time.Duration, error) {
	offset, err := c.Sample(ctx)
	if err != nil {
		return 0, err
	}
	c.Record(offset)
	return offset, nil
}

// Record appends offset to the bounded ring. Exported so a
// single-threaded owner receiving samples over a channel (rather than
// calling Query/Sample itself) can still feed the ring.
func (c *Checker) Record(offset time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(offset)
}

func (c *Checker) record(offset time.Duration) {
	c.offsets = append(c.offsets, offset)
	if len(c.offsets) > maxRingSamples {
		c.offsets = c.offsets[len(c.offsets)-maxRingSamples:]
	}
	c.lastAt = time.Now()
}

// CheckStartup performs the fatal startup gate: query once and
// compare the absolute offset against maxOffset. A query error or an
// excessive offset both return a non-nil error, which the caller
// should treat as a fatal configuration/clock problem.
func (c *Checker) CheckStartup(ctx context.Context, maxOffset time.Duration) error {
	offset, err := c.Query(ctx)
	if err != nil {
		return err
	}
	if offset > maxOffset {
		return fmt.Errorf("ntpcheck: server time too far from %q, offset = %s (max %s)", c.serverURL, offset, maxOffset)
	}
	return nil
}

// CheckPeriodic performs a non-fatal recheck: errors and excessive
// offsets are both reported to the caller for logging, but neither is
// treated as fatal after the startup gate has already passed.
func (c *Checker) CheckPeriodic(ctx context.Context, maxOffset time.Duration) (offset time.Duration, exceeded bool, err error) {
	offset, err = c.Query(ctx)
	if err != nil {
		return 0, false, err
	}
	return offset, offset > maxOffset, nil
}

// History returns a copy of the bounded offset ring, oldest first.
func (c *Checker) History() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.offsets))
	copy(out, c.offsets)
	return out
}

// LastCheckedAt returns the time the most recent offset was recorded
// (by Query or by an external Record call), or the zero Time if none
// has been recorded yet.
func (c *Checker) LastCheckedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAt
}
