package heartbeat

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swiftim-go/core/internal/model"
)

type fakeRequester struct {
	calls   atomic.Int32
	fail    atomic.Bool
	failErr error
}

func (f *fakeRequester) Request(ctx context.Context, cmd model.Command, body []byte) ([]byte, error) {
	f.calls.Add(1)
	if f.fail.Load() {
		return nil, f.failErr
	}
	return nil, nil
}

func TestHeartbeatProbesPeriodically(t *testing.T) {
	req := &fakeRequester{}
	hb := New(10*time.Millisecond, 50*time.Millisecond, req, nil)
	hb.Start()
	time.Sleep(55 * time.Millisecond)
	hb.Stop()

	if req.calls.Load() < 3 {
		t.Fatalf("expected at least 3 probes, got %d", req.calls.Load())
	}
}

func TestHeartbeatInvokesOnFailAfterProbeError(t *testing.T) {
	req := &fakeRequester{}
	req.fail.Store(true)
	req.failErr = errors.New("boom")

	failed := make(chan error, 1)
	hb := New(5*time.Millisecond, 50*time.Millisecond, req, func(err error) {
		failed <- err
	})
	hb.Start()

	select {
	case err := <-failed:
		if model.Code(err) != model.ErrTimeout {
			t.Fatalf("expected ErrTimeout, got %v", model.Code(err))
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("onFail never invoked")
	}
	hb.Stop()
}

func TestHeartbeatStopPreventsFurtherProbes(t *testing.T) {
	req := &fakeRequester{}
	hb := New(5*time.Millisecond, 50*time.Millisecond, req, nil)
	hb.Start()
	time.Sleep(12 * time.Millisecond)
	hb.Stop()
	countAtStop := req.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if req.calls.Load() != countAtStop {
		t.Fatalf("expected no further probes after Stop, before=%d after=%d", countAtStop, req.calls.Load())
	}
}
