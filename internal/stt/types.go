package stt

// TranscriptionResult represents a transcription result from the streaming
// STT provider.
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// IsUtteranceEnd indicates a silence-based endpoint signal with no
	// transcript payload of its own; the orchestrator flushes any buffered
	// interim as if it were final when this arrives.
	IsUtteranceEnd bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// STTClient is the interface for speech-to-text clients
type STTClient interface {
	// Start begins a new transcription session
	Start() error

	// SendAudio sends an audio chunk to the STT service. Canonical input
	// format is 8kHz mono 16-bit signed little-endian PCM.
	SendAudio(audioData []byte) error

	// GetTranscription returns the channel on which transcription results
	// are delivered
	GetTranscription() <-chan *TranscriptionResult

	// Stop stops the transcription session
	Stop() error

	// Close closes the client and cleans up resources
	Close() error

	// Failed reports whether the client has exhausted its reconnection
	// attempts and is running in a degraded (silently dropping audio) state.
	Failed() bool
}

// MinFinalConfidence is the confidence floor below which a "final" result
// is treated as noise and not forwarded to the orchestrator.
const MinFinalConfidence = 0.5
