package stt

import (
	"context"
	"strings"
	"sync"
	"time"
)

// collector joins the final results of one turn and lets Finish wait until
// the provider has gone quiet.
type collector struct {
	mu       sync.Mutex
	finals   []string
	interim  string
	activity chan struct{}
}

func newCollector() *collector {
	return &collector{activity: make(chan struct{}, 1)}
}

func (c *collector) add(r *TranscriptionResult) {
	if r == nil {
		return
	}
	text := strings.TrimSpace(r.Text)

	c.mu.Lock()
	if r.IsFinal {
		if text != "" {
			c.finals = append(c.finals, text)
		}
		c.interim = ""
	} else {
		c.interim = text
	}
	c.mu.Unlock()

	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// text returns the joined finals. A trailing interim result is used only when
// no final ever arrived for it.
func (c *collector) text() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := append([]string(nil), c.finals...)
	if c.interim != "" {
		parts = append(parts, c.interim)
	}
	return strings.Join(parts, " ")
}

// settle blocks until no result has arrived for quiet, or until limit has
// passed in total.
func (c *collector) settle(ctx context.Context, quiet, limit time.Duration) {
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	idle := time.NewTimer(quiet)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-idle.C:
			return
		case <-c.activity:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(quiet)
		}
	}
}
