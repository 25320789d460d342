package tts

// AudioChunk represents a chunk of audio data ready for the AudioPacer.
// Format is always canonical 8kHz mono 16-bit signed little-endian PCM.
type AudioChunk struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// TTSClient defines the interface for a Text-to-Speech client.
type TTSClient interface {
	// Synthesize converts text to audio for the given language and streams
	// PCM frames back on the returned channel. The channel is closed when
	// synthesis completes, fails, or is interrupted via Stop.
	Synthesize(text, language string) (<-chan *AudioChunk, error)

	// Stop stops any ongoing synthesis.
	Stop() error

	// Close closes the client and cleans up resources.
	Close() error

	// IsActive returns whether the client is currently synthesizing.
	IsActive() bool
}
