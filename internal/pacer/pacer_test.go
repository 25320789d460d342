package pacer

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/config"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  [][]byte
	errOn int // index at which to fail, -1 for never
}

func (f *fakeSender) SendMedia(streamID string, pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errOn >= 0 && len(f.sent) == f.errOn {
		return errWrite
	}
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	f.sent = append(f.sent, cp)
	return nil
}

var errWrite = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "write failed" }

func testConfig() *config.Config {
	return &config.Config{
		PacerFrameDurationMs: 1, // keep tests fast
		PacerGraceWindowMs:   0,
	}
}

func TestPlay_CompletesAndChunksFrames(t *testing.T) {
	sender := &fakeSender{errOn: -1}
	p := New(testConfig(), sender, "S1", zerolog.Nop())

	pcm := make([]byte, 320*3) // 60 frames of 16 bytes at the 1ms test frame duration
	result := p.Play(pcm, nil)

	if result != Completed {
		t.Errorf("expected Completed, got %v", result)
	}
	if p.BytesSent() != int64(len(pcm)) {
		t.Errorf("expected all bytes sent, got %d", p.BytesSent())
	}
	if len(sender.sent) != 60 {
		t.Errorf("expected 60 frames, got %d", len(sender.sent))
	}
}

func TestPlay_StaleTurnInterruptsInFlightPlayback(t *testing.T) {
	sender := &fakeSender{errOn: -1}
	p := New(testConfig(), sender, "S1", zerolog.Nop())

	callCount := 0
	isStale := func() bool {
		callCount++
		return callCount > 1 // interrupt after the first frame
	}

	pcm := make([]byte, 320*10)
	result := p.Play(pcm, isStale)

	if result != Interrupted {
		t.Errorf("expected Interrupted due to staleness, got %v", result)
	}
}

func TestPlay_WriteErrorResolvesInterrupted(t *testing.T) {
	sender := &fakeSender{errOn: 0}
	p := New(testConfig(), sender, "S1", zerolog.Nop())

	pcm := make([]byte, 320*3)
	result := p.Play(pcm, nil)

	if result != Interrupted {
		t.Errorf("expected Interrupted on write error, got %v", result)
	}
}

func TestNewPlay_CancelsPriorSession(t *testing.T) {
	sender := &fakeSender{errOn: -1}
	p := New(testConfig(), sender, "S1", zerolog.Nop())

	p.mu.Lock()
	firstInterrupt := new(int32)
	p.interrupt = firstInterrupt
	p.mu.Unlock()

	pcm := make([]byte, 320)
	p.Play(pcm, nil)

	if *firstInterrupt == 0 {
		t.Error("expected prior session's interrupt flag to be set")
	}
}

func TestNearCompletion(t *testing.T) {
	sender := &fakeSender{errOn: -1}
	p := New(testConfig(), sender, "S1", zerolog.Nop())

	pcm := make([]byte, 1000)
	p.Play(pcm, nil)

	if !p.NearCompletion(500) {
		t.Error("expected near completion at 500 byte threshold after sending 1000 bytes")
	}
	if p.NearCompletion(2000) {
		t.Error("expected not near completion at 2000 byte threshold after sending 1000 bytes")
	}
}
