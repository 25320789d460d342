package tts

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/voice-gateway/internal/audio"
	"github.com/lexiqai/voice-gateway/internal/config"
)

const (
	sarvamTextToSpeechURL = "wss://api.sarvam.ai/text-to-speech/ws"
	sarvamWarmupTimeout   = 250 * time.Millisecond
)

// SarvamClient implements TTSClient with a streaming WS session preferred
// and an HTTP one-shot fallback when the session doesn't warm up in time
// or the dial fails outright.
type SarvamClient struct {
	config     *config.Config
	httpClient *http.Client

	mu       sync.Mutex
	conn     *websocket.Conn
	isActive bool
	interrupt bool
}

// NewSarvamClient creates a new Sarvam TTS client.
func NewSarvamClient(cfg *config.Config) *SarvamClient {
	return &SarvamClient{
		config:     cfg,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Synthesize opens a streaming session for text in the given language,
// falling back to the HTTP one-shot endpoint if the session doesn't open
// within the warm-up window.
func (c *SarvamClient) Synthesize(text, language string) (<-chan *AudioChunk, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("sarvam client is already synthesizing")
	}
	c.isActive = true
	c.interrupt = false
	c.mu.Unlock()

	voice := ResolveVoice(language, c.config.SarvamDefaultVoice)

	conn, err := c.dialWithTimeout(sarvamWarmupTimeout)
	if err != nil {
		log.Printf("sarvam-tts: streaming session unavailable (%v), falling back to HTTP", err)
		return c.synthesizeHTTP(text, voice)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	configMsg := map[string]interface{}{
		"type": "config",
		"data": map[string]interface{}{
			"target_language_code": voice.Locale,
			"speaker":              voice.Speaker,
			"speech_sample_rate":   8000,
			"output_audio_codec":   "linear16",
		},
	}
	if err := conn.WriteJSON(configMsg); err != nil {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		log.Printf("sarvam-tts: failed to send config frame (%v), falling back to HTTP", err)
		return c.synthesizeHTTP(text, voice)
	}

	textMsg := map[string]interface{}{
		"type": "text",
		"data": map[string]interface{}{"text": text},
	}
	if err := conn.WriteJSON(textMsg); err != nil {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		return c.synthesizeHTTP(text, voice)
	}
	if err := conn.WriteJSON(map[string]interface{}{"type": "flush"}); err != nil {
		log.Printf("sarvam-tts: failed to send flush frame: %v", err)
	}

	audioChan := make(chan *AudioChunk, 20)
	go c.readLoop(conn, audioChan)

	return audioChan, nil
}

func (c *SarvamClient) dialWithTimeout(timeout time.Duration) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", sarvamTextToSpeechURL, c.config.SarvamModel)
	dialer := &websocket.Dialer{HandshakeTimeout: timeout}
	headers := http.Header{"Authorization": {"Bearer " + c.config.SarvamAPIKey}}
	conn, _, err := dialer.Dial(url, headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *SarvamClient) readLoop(conn *websocket.Conn, audioChan chan<- *AudioChunk) {
	defer func() {
		conn.Close()
		close(audioChan)
		c.mu.Lock()
		c.isActive = false
		c.conn = nil
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		interrupted := c.interrupt
		c.mu.Unlock()
		if interrupted {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame map[string]interface{}
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("sarvam-tts: malformed frame: %v", err)
			continue
		}

		switch frame["type"] {
		case "audio":
			data, _ := frame["data"].(map[string]interface{})
			payload, _ := data["audio"].(string)
			if payload == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				log.Printf("sarvam-tts: failed to decode audio frame: %v", err)
				continue
			}
			select {
			case audioChan <- &AudioChunk{Data: raw, SampleRate: 8000, Channels: 1}:
			default:
				log.Printf("sarvam-tts: audio channel full, dropping frame")
			}

		case "end", "audio_end":
			return

		case "error":
			log.Printf("sarvam-tts: upstream error frame: %v", frame)
			return
		}
	}
}

// synthesizeHTTP is the one-shot fallback path: POST text + voice params,
// response yields one blob of PCM (or WAV, which is header-stripped).
func (c *SarvamClient) synthesizeHTTP(text string, voice VoiceProfile) (<-chan *AudioChunk, error) {
	audioChan := make(chan *AudioChunk, 1)

	body := map[string]interface{}{
		"inputs":               []string{text},
		"target_language_code": voice.Locale,
		"speaker":              voice.Speaker,
		"speech_sample_rate":   8000,
		"enable_preprocessing": true,
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		c.mu.Lock()
		c.isActive = false
		c.mu.Unlock()
		close(audioChan)
		return nil, fmt.Errorf("failed to marshal sarvam HTTP request: %w", err)
	}

	req, err := http.NewRequest("POST", "https://api.sarvam.ai/text-to-speech", bytes.NewReader(jsonData))
	if err != nil {
		c.mu.Lock()
		c.isActive = false
		c.mu.Unlock()
		close(audioChan)
		return nil, fmt.Errorf("failed to build sarvam HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-subscription-key", c.config.SarvamAPIKey)

	go func() {
		defer func() {
			close(audioChan)
			c.mu.Lock()
			c.isActive = false
			c.mu.Unlock()
		}()

		resp, err := c.httpClient.Do(req)
		if err != nil {
			log.Printf("sarvam-tts: HTTP fallback request failed: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			log.Printf("sarvam-tts: HTTP fallback returned status %d", resp.StatusCode)
			return
		}

		var result struct {
			Audios []string `json:"audios"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || len(result.Audios) == 0 {
			log.Printf("sarvam-tts: failed to decode HTTP fallback response: %v", err)
			return
		}

		raw, err := base64.StdEncoding.DecodeString(result.Audios[0])
		if err != nil {
			log.Printf("sarvam-tts: failed to decode fallback audio payload: %v", err)
			return
		}
		pcm := audio.StripWAVHeader(raw)

		select {
		case audioChan <- &AudioChunk{Data: pcm, SampleRate: 8000, Channels: 1}:
		default:
		}
	}()

	return audioChan, nil
}

// Stop interrupts any in-flight synthesis; a new Synthesize call must first
// observe the prior session stopped before starting its own.
func (c *SarvamClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.interrupt = true
	if c.conn != nil {
		c.conn.Close()
	}
	c.isActive = false
	return nil
}

// Close closes the client and cleans up resources.
func (c *SarvamClient) Close() error {
	return c.Stop()
}

// IsActive returns whether the client is currently synthesizing.
func (c *SarvamClient) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isActive
}
