// Package pacer implements wall-clock audio frame pacing: chunking a PCM
// clip into fixed-duration frames and emitting them to the telephony side
// at real-time speed, with mid-stream interruption support.
package pacer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/audio"
	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/observability"
)

const (
	sampleRate   = 8000
	bytesPerSamp = 2 // 16-bit linear PCM
)

// Result is the outcome of a Play call.
type Result int

const (
	Completed Result = iota
	Interrupted
)

// Sender is the outbound half of the telephony adapter a pacer writes to.
type Sender interface {
	SendMedia(streamID string, pcm []byte) error
}

// AudioPacer streams one PCM clip at a time to a Sender, chunked into
// fixed-duration frames sent at wall-clock pace. At most one playback is
// active; starting a new one cancels the prior one first.
type AudioPacer struct {
	cfg      *config.Config
	sender   Sender
	streamID string
	logger   zerolog.Logger

	mu        sync.Mutex
	interrupt *int32 // pointer so a stale Stop() can't cancel a newer session
	bytesSent int64
}

// New creates a pacer bound to one call's outbound stream.
func New(cfg *config.Config, sender Sender, streamID string, logger zerolog.Logger) *AudioPacer {
	return &AudioPacer{cfg: cfg, sender: sender, streamID: streamID, logger: logger}
}

// Play chunks pcm into frames and emits them at wall-clock pace, checking
// isStale before each frame (the caller's stale-turnId check) as well as the
// interrupt flag. It cancels any prior in-flight Play first and waits the
// configured grace window before starting. Returns Completed only if every
// frame was sent on an open socket with no interruption or staleness;
// Interrupted otherwise, including on a write error.
func (p *AudioPacer) Play(pcm []byte, isStale func() bool) Result {
	p.mu.Lock()
	if p.interrupt != nil {
		atomic.StoreInt32(p.interrupt, 1)
	}
	myInterrupt := new(int32)
	p.interrupt = myInterrupt
	p.bytesSent = 0
	p.mu.Unlock()

	if p.cfg.PacerGraceWindowMs > 0 {
		time.Sleep(time.Duration(p.cfg.PacerGraceWindowMs) * time.Millisecond)
	}

	frameBytes := sampleRate * bytesPerSamp * p.cfg.PacerFrameDurationMs / 1000
	if frameBytes <= 0 {
		frameBytes = 320
	}
	frameDuration := time.Duration(p.cfg.PacerFrameDurationMs) * time.Millisecond

	// The clip is staged in a ring buffer and drained frame-by-frame; this is
	// the same write-then-read split the teacher's outbound buffer used, just
	// applied to one clip at a time instead of a long-lived stream.
	scratch := audio.NewRingBuffer(len(pcm) + 1)
	scratch.Write(pcm)
	frame := make([]byte, frameBytes)

	for !scratch.IsEmpty() {
		if atomic.LoadInt32(myInterrupt) != 0 {
			return Interrupted
		}
		if isStale != nil && isStale() {
			return Interrupted
		}

		start := time.Now()
		n := scratch.Read(frame)
		if n == 0 {
			break
		}

		if err := p.sender.SendMedia(p.streamID, frame[:n]); err != nil {
			p.logger.Warn().Err(err).Msg("pacer write failed, treating as interrupted")
			return Interrupted
		}
		observability.RecordPacerFrame()

		p.mu.Lock()
		p.bytesSent += int64(n)
		p.mu.Unlock()

		elapsed := time.Since(start)
		if sleep := frameDuration - elapsed; sleep > 0 {
			time.Sleep(sleep)
		}
	}

	return Completed
}

// Stop cancels any in-flight Play. Safe to call when nothing is playing.
func (p *AudioPacer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interrupt != nil {
		atomic.StoreInt32(p.interrupt, 1)
	}
}

// BytesSent returns the number of PCM bytes emitted by the current or most
// recently completed Play call.
func (p *AudioPacer) BytesSent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesSent
}

// NearCompletion reports whether the current playback has sent at least
// minBytes, the TurnController's "let it finish" gate.
func (p *AudioPacer) NearCompletion(minBytes int) bool {
	return p.BytesSent() >= int64(minBytes)
}
