package stt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/observability"
	"github.com/lexiqai/voice-gateway/internal/resilience"
)

// maxQueuedFrames bounds the in-memory buffer of caller audio accumulated
// while the upstream WS is not yet open; oldest frames are dropped on
// overflow rather than blocking the caller.
const maxQueuedFrames = 200

// messageCallbackHandler implements the LiveMessageCallback interface
// It embeds the default handler and overrides only the methods we need to customize
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	handler                                func(*msginterfaces.MessageResponse)
	errorHandler                           func(*msginterfaces.ErrorResponse) error
}

// Message overrides the default handler to send transcriptions to our channel
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	// Fall back to default handler behavior
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements STTClient using Deepgram's streaming API
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	transcript     chan *TranscriptionResult
	mu             sync.RWMutex
	isActive       bool
	failed         bool // true after reconnection attempts are exhausted
	reconnectTries int
	queue          [][]byte // bounded drop-oldest buffer while client is not active
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramClient creates a new Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	// Create circuit breaker
	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramClient{
		config:         cfg,
		transcript:     make(chan *TranscriptionResult, 100),
		ctx:            ctx,
		cancel:         cancel,
		isActive:       false,
		circuitBreaker: circuitBreaker,
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	// Create Deepgram transcription options (v3 API). Canonical inbound
	// format is already normalized to 8kHz linear16 by the telephony
	// adapter before reaching this client.
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		SmartFormat:    true,
		UtteranceEndMs: "300", // endpointing window before we treat silence as utterance end
		VadEvents:      true,  // Enable voice activity detection events
		Encoding:       "linear16",
		Channels:       1, // Mono
		SampleRate:     8000,
	}

	// Create callback struct that implements LiveMessageCallback interface
	// We embed the default handler and only override Message and Error methods
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleDeepgramMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			log.Printf("Deepgram error: %+v", errorResponse)

			// Record failure in circuit breaker
			d.circuitBreaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			// Try to reconnect if not cancelled
			select {
			case <-d.ctx.Done():
				return nil
			default:
				// Connection lost, mark as inactive
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()

				// Attempt reconnection in background
				go d.attemptReconnect()
			}
			return nil
		},
	}

	// Create Deepgram WebSocket client using callback (v3 API)
	// Using nil for cOptions to use defaults
	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)

	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true
	d.reconnectTries = 0

	// Record success in circuit breaker
	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	// Drain any frames queued while the socket was down.
	queued := d.queue
	d.queue = nil
	go func() {
		for _, frame := range queued {
			if _, err := client.Write(frame); err != nil {
				log.Printf("failed to drain queued audio to Deepgram: %v", err)
				return
			}
		}
	}()

	log.Printf("Deepgram streaming client started (model: %s, language: %s)", d.config.DeepgramModel, d.config.DeepgramLanguage)
	return nil
}

// handleDeepgramMessage processes messages from Deepgram
func (d *DeepgramClient) handleDeepgramMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	// Handle different message types based on Type field (string)
	// MessageResponse is used for transcription results
	switch msg.Type {
	case "Metadata":
		// Metadata messages are handled separately, log for now
		log.Printf("Deepgram metadata: %+v", msg.Metadata)

	case "SpeechStarted":
		log.Printf("Deepgram: Speech started")

	case "UtteranceEnd":
		select {
		case d.transcript <- &TranscriptionResult{IsUtteranceEnd: true}:
		default:
			log.Printf("Warning: transcript channel full, dropping utteranceEnd")
		}

	case "Results", "Message":
		// Process transcription results
		// MessageResponse has Channel directly (not Results.Channels)
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		// Get the best alternative (first one)
		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		// Determine if this is a final result
		isFinal := msg.IsFinal

		// Extract confidence if available
		confidence := 0.0
		if alt.Confidence > 0 {
			confidence = alt.Confidence
		}

		// Finals below the confidence floor are noise, not speech; drop them.
		if isFinal && confidence > 0 && confidence < MinFinalConfidence {
			log.Printf("Deepgram final below confidence floor (%.2f < %.2f), dropping: %s", confidence, MinFinalConfidence, alt.Transcript)
			return
		}

		// Extract timing information
		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			// Fallback: calculate duration from words if not provided
			startTime = alt.Words[0].Start
			lastWord := alt.Words[len(alt.Words)-1]
			duration = lastWord.End - startTime
		}

		// Create transcription result
		result := &TranscriptionResult{
			Text:       alt.Transcript,
			IsFinal:    isFinal,
			Confidence: confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		// Send to transcript channel (non-blocking)
		select {
		case d.transcript <- result:
			if isFinal {
				log.Printf("Deepgram final transcription: %s (confidence: %.2f)", alt.Transcript, confidence)
			} else {
				log.Printf("Deepgram interim transcription: %s", alt.Transcript)
			}
		default:
			log.Printf("Warning: transcript channel full, dropping transcription")
		}

	default:
		log.Printf("Deepgram: Received unknown message type: %s", msg.Type)
	}
}

// SendAudio sends an audio chunk to Deepgram. While the socket is not open
// yet, frames are queued in a bounded drop-oldest buffer instead of being
// rejected.
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	d.mu.Lock()
	if !d.isActive || d.client == nil {
		d.queue = append(d.queue, audioData)
		if len(d.queue) > maxQueuedFrames {
			d.queue = d.queue[len(d.queue)-maxQueuedFrames:]
		}
		d.mu.Unlock()
		return nil
	}
	client := d.client
	d.mu.Unlock()

	// Use circuit breaker to protect the call
	err := d.circuitBreaker.Call(func() error {
		_, err := client.Write(audioData)
		if err != nil {
			// Attempt reconnection in background on error
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	// Update circuit breaker metrics
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}

	return err
}

// attemptReconnect attempts to reconnect to Deepgram. After three
// unsuccessful rounds it marks the client permanently degraded
// (Failed() == true) so the TurnController can speak a fallback once and
// stop retrying.
func (d *DeepgramClient) attemptReconnect() {
	// Check if already active or context cancelled
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.Lock()
	alreadyActive := d.isActive
	d.reconnectTries++
	tries := d.reconnectTries
	d.mu.Unlock()

	if alreadyActive {
		return // Already reconnected
	}

	if tries > d.config.ReconnectMaxAttempts {
		d.mu.Lock()
		d.failed = true
		d.mu.Unlock()
		log.Printf("Deepgram reconnection attempts exhausted (%d), marking STT degraded", tries-1)
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: 1,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(d.ctx, func() error {
		return d.Start()
	}, reconnectConfig)

	if err != nil {
		log.Printf("Deepgram reconnect attempt %d/%d failed: %v", tries, d.config.ReconnectMaxAttempts, err)
		go d.attemptReconnect()
	} else {
		log.Printf("Successfully reconnected Deepgram client")
	}
}

// GetTranscription returns a channel that receives transcription results
func (d *DeepgramClient) GetTranscription() <-chan *TranscriptionResult {
	return d.transcript
}

// Stop stops the Deepgram streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil // Already stopped
	}

	// Send finish message to Deepgram
	// WSCallback Finish() doesn't return an error
	d.client.Finish()

	d.isActive = false
	log.Printf("Deepgram streaming client stopped")
	return nil
}

// Close closes the client and cleans up resources
func (d *DeepgramClient) Close() error {
	d.cancel() // Cancel context to stop any reconnection attempts

	if err := d.Stop(); err != nil {
		return err
	}

	// Close transcript channel after a short delay to allow any pending reads
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.transcript)
	}()

	return nil
}

// IsActive returns whether the client is currently active
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// Failed reports whether reconnection attempts have been exhausted.
func (d *DeepgramClient) Failed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failed
}
