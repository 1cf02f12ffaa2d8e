// Package heartbeat keeps an established connection alive with a
// periodic HeartbeatReq/Rsp probe and detects a dead peer by timeout
// (spec.md §4.3). Grounded on the teacher's writePump ping ticker
// (internal/shared/pump_write.go): a single ticker drives the probe,
// and a missed deadline is treated as fatal to the connection rather
// than retried in place — the caller (Session/Reconnector) redials.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/swiftim-go/core/internal/model"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 10 * time.Second
)

// Requester is the subset of Transport that Heartbeat needs. Declared
// locally so this package never imports transport.
type Requester interface {
	Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error)
}

// Heartbeat runs one periodic probe loop for the lifetime of a single
// connection. A new Heartbeat is created per Connect; it is never
// reused across reconnects.
type Heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	req      Requester
	onFail   func(error)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Heartbeat. onFail is invoked exactly once, from the
// probe goroutine, the first time a probe fails or times out; the
// caller is expected to tear down the connection and/or trigger
// reconnection from onFail — Heartbeat itself does not retry.
func New(interval, timeout time.Duration, req Requester, onFail func(error)) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Heartbeat{
		interval: interval,
		timeout:  timeout,
		req:      req,
		onFail:   onFail,
		stop:     make(chan struct{}),
	}
}

// Start launches the probe loop. Safe to call once per Heartbeat.
func (h *Heartbeat) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop halts the probe loop without invoking onFail. Safe to call more
// than once and safe to call from onFail itself.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
}

func (h *Heartbeat) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			if err := h.probe(); err != nil {
				if h.onFail != nil {
					h.onFail(err)
				}
				return
			}
		}
	}
}

func (h *Heartbeat) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	_, err := h.req.Request(ctx, model.CommandHeartbeatReq, nil)
	if err != nil {
		return model.Wrap(model.ErrTimeout, "heartbeat probe failed", err)
	}
	return nil
}
