package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/audio"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// PBX origin validation happens at the infrastructure layer (allow-listed
		// provider IP ranges); this process accepts any upgrade it receives.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Adapter wraps one PBX WebSocket connection: it parses inbound frames into
// normalized Events, decodes side-channel blobs, normalizes inbound audio to
// 8kHz linear16, and builds outbound media/stop envelopes. It does not make
// any turn-taking decisions; that belongs to the session event loop.
type Adapter struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events chan Event

	mu       sync.Mutex
	streamID string
	answered bool
	closed   bool

	seq int32
}

// Upgrade accepts a PBX WebSocket connection and returns an Adapter bound to
// it. The caller is responsible for running Adapter.Run and ultimately
// Adapter.Close.
func Upgrade(w http.ResponseWriter, r *http.Request, logger zerolog.Logger) (*Adapter, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return &Adapter{
		conn:   conn,
		logger: logger,
		events: make(chan Event, 64),
	}, nil
}

// Events returns the channel of normalized inbound events. It is closed when
// the read loop exits (on WS close or read error).
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Run reads frames off the wire until the connection closes or a stop event
// is processed, parsing and normalizing each into an Event pushed onto
// Events(). It must run in its own goroutine.
func (a *Adapter) Run() {
	defer close(a.events)

	for {
		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				a.logger.Warn().Err(err).Msg("pbx websocket read error")
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			a.logger.Warn().Err(err).Msg("malformed pbx frame, dropping")
			continue
		}

		event, ok := a.normalize(&frame)
		if !ok {
			continue
		}

		select {
		case a.events <- event:
		default:
			a.logger.Warn().Str("event", string(event.Type)).Msg("event channel full, dropping frame")
		}

		if event.Type == EventStop {
			return
		}
	}
}

// normalize converts a raw inbound frame into an Event, decoding side
// channels and normalizing audio as needed. Returns ok=false for unknown or
// unparseable events, which are logged and ignored, never fatal.
func (a *Adapter) normalize(frame *inboundFrame) (Event, bool) {
	streamID := frame.StreamSid
	if streamID == "" {
		streamID = frame.StreamID
	}
	if streamID != "" {
		a.mu.Lock()
		a.streamID = streamID
		a.mu.Unlock()
	}

	switch EventType(frame.Event) {
	case EventConnected:
		return Event{Type: EventConnected, StreamID: streamID}, true

	case EventStart:
		extraData := decodeExtraData(frame.ExtraData)
		czData := decodeCzData(frame.CzData)
		return Event{
			Type:        EventStart,
			StreamID:    streamID,
			AccountSid:  frame.AccountSid,
			CallSid:     frame.CallSid,
			MediaFormat: frame.MediaFmt,
			ExtraData:   extraData,
			CzData:      czData,
			User:        DecodeUser(extraData, czData),
		}, true

	case EventAnswer:
		a.mu.Lock()
		a.answered = true
		a.mu.Unlock()
		return Event{Type: EventAnswer, StreamID: streamID}, true

	case EventMedia:
		if frame.Media == nil {
			a.logger.Warn().Msg("media event missing payload")
			return Event{}, false
		}
		encoded := frame.Media.Payload
		if encoded == "" {
			encoded = frame.Media.Chunk
		}
		if encoded == "" {
			a.logger.Warn().Msg("media event has no chunk/payload")
			return Event{}, false
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			a.logger.Warn().Err(err).Msg("media event has invalid base64, dropping")
			return Event{}, false
		}

		encoding := ""
		sampleRate := 0
		if frame.MediaFmt != nil {
			encoding = frame.MediaFmt.Encoding
			sampleRate = frame.MediaFmt.SampleRate
		}
		pcm, err := audio.NormalizeToLinear16_8k(raw, encoding, sampleRate)
		if err != nil {
			a.logger.Warn().Err(err).Msg("failed to normalize inbound audio, dropping frame")
			return Event{}, false
		}
		return Event{Type: EventMedia, StreamID: streamID, AudioPCM: pcm}, true

	case EventDTMF:
		digit := ""
		if frame.DTMF != nil {
			digit = frame.DTMF.Digit
		}
		return Event{Type: EventDTMF, StreamID: streamID, DTMFDigit: digit}, true

	case EventMark, EventClear, EventTransferCall, EventHangupCall:
		return Event{Type: EventType(frame.Event), StreamID: streamID}, true

	case EventStop:
		return Event{Type: EventStop, StreamID: streamID, AccountSid: frame.AccountSid, CallSid: frame.CallSid}, true

	default:
		a.logger.Debug().Str("event", frame.Event).Msg("unknown pbx event, ignoring")
		return Event{}, false
	}
}

// SendMedia emits one outbound media frame carrying pcm (already 8kHz
// linear16 mono) for the given stream.
func (a *Adapter) SendMedia(streamID string, pcm []byte) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return fmt.Errorf("adapter is closed")
	}
	return a.conn.WriteMessage(websocket.TextMessage, mediaEnvelope(streamID, pcm))
}

// SendStop emits the self-initiated termination frame, then a best-effort
// close control frame written with a 500ms deadline. It does not wait for
// a PBX ack; it returns as soon as both frames are written.
func (a *Adapter) SendStop(streamID, accountSid, callSid string) error {
	seq := atomic.AddInt32(&a.seq, 1)
	if err := a.conn.WriteMessage(websocket.TextMessage, stopEnvelope(streamID, accountSid, callSid, int(seq))); err != nil {
		return err
	}
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(500*time.Millisecond))
	return nil
}

// SendAck acknowledges a PBX control frame (transfer-call, hangup-call) that
// this adapter takes no further action on.
func (a *Adapter) SendAck(streamID, event string) error {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return fmt.Errorf("adapter is closed")
	}
	return a.conn.WriteMessage(websocket.TextMessage, ackEnvelope(streamID, event))
}

// Close force-closes the underlying connection. Safe to call more than once.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.conn.Close()
}
