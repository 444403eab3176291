package agenda

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/hackgods/clinic-agenda/internal/transport"
)

var _ transport.Transport = (*pendingTransport)(nil)

type reply struct {
	raw json.RawMessage
	err error
}

// call is one request held by pendingTransport until the test answers it.
type call struct {
	action  string
	payload any
	resp    chan reply
}

func (c *call) respond(body string) { c.resp <- reply{raw: json.RawMessage(body)} }

func (c *call) fail(err error) { c.resp <- reply{err: err} }

// pendingTransport lets tests control completion order of concurrent calls.
type pendingTransport struct {
	calls chan *call
}

func newPendingTransport() *pendingTransport {
	return &pendingTransport{calls: make(chan *call, 16)}
}

func (p *pendingTransport) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	c := &call{action: action, payload: payload, resp: make(chan reply, 1)}
	p.calls <- c
	select {
	case r := <-c.resp:
		return r.raw, r.err
	case <-ctx.Done():
		return nil, transport.Cancelled(action, ctx.Err())
	}
}

func (p *pendingTransport) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-p.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport call")
		return nil
	}
}

// scriptedTransport answers synchronously from a table keyed by action.
type scriptedTransport struct {
	mu      sync.Mutex
	replies map[string]reply
	counts  map[string]int
	block   chan struct{}
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{replies: map[string]reply{}, counts: map[string]int{}}
}

func (s *scriptedTransport) on(action, body string) *scriptedTransport {
	s.replies[action] = reply{raw: json.RawMessage(body)}
	return s
}

func (s *scriptedTransport) onError(action string, err error) *scriptedTransport {
	s.replies[action] = reply{err: err}
	return s
}

func (s *scriptedTransport) count(action string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[action]
}

func (s *scriptedTransport) Call(ctx context.Context, action string, _ any) (json.RawMessage, error) {
	s.mu.Lock()
	s.counts[action]++
	r, ok := s.replies[action]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, transport.Cancelled(action, ctx.Err())
		}
	}
	if !ok {
		return nil, &transport.Error{Action: action, Code: "http_404", Message: "unknown action"}
	}
	return r.raw, r.err
}
