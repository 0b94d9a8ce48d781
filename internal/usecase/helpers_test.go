package usecase

import (
	"bytes"
	"context"
	"sync"
	"time"

	"FxAlert/internal/domain/models"
	"FxAlert/internal/platform"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeResponder answers Ack calls from a script; once the script runs out
// the last entry repeats. Each call advances clk by latency.
type fakeResponder struct {
	mu       sync.Mutex
	clk      *fakeClock
	latency  time.Duration
	script   []error
	acks     int
	edits    []string
	editErrs []error
}

func (f *fakeResponder) Ack(_ context.Context, _ models.InboundInteraction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks++
	if f.clk != nil && f.latency > 0 {
		f.clk.Advance(f.latency)
	}
	if len(f.script) == 0 {
		return nil
	}
	idx := f.acks - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx]
}

func (f *fakeResponder) EditFinalReply(_ context.Context, _ models.InboundInteraction, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.editErrs) > 0 {
		err := f.editErrs[0]
		f.editErrs = f.editErrs[1:]
		if err != nil {
			return err
		}
	}
	f.edits = append(f.edits, content)
	return nil
}

func (f *fakeResponder) Classify(err error) models.ErrorClass { return platform.Classify(err) }

func (f *fakeResponder) AckCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acks
}

func (f *fakeResponder) Edits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.edits...)
}

var (
	errTransient = &platform.Error{Status: 503, Message: "upstream"}
	errAlready   = &platform.Error{Status: 400, Code: platform.CodeAlreadyAcknowledged, Message: "already acknowledged"}
	errUnknownIx = &platform.Error{Status: 404, Code: platform.CodeUnknownInteraction, Message: "unknown interaction"}
)

type recordingScheduler struct {
	mu  sync.Mutex
	ins []models.InboundInteraction
	err error
}

func (s *recordingScheduler) Schedule(_ context.Context, in models.InboundInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ins = append(s.ins, in)
	return nil
}

func (s *recordingScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ins)
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
