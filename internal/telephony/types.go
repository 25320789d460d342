package telephony

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// EventType discriminates inbound PBX frames.
type EventType string

const (
	EventConnected     EventType = "connected"
	EventStart         EventType = "start"
	EventAnswer        EventType = "answer"
	EventMedia         EventType = "media"
	EventDTMF          EventType = "dtmf"
	EventMark          EventType = "mark"
	EventClear         EventType = "clear"
	EventStop          EventType = "stop"
	EventTransferCall  EventType = "transfer-call"
	EventHangupCall    EventType = "hangup-call"
)

// MediaFormat describes the encoding of inbound audio, as advertised in a
// start frame. PBX variants vary in what they actually send.
type MediaFormat struct {
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// inboundFrame is the raw JSON envelope read off the wire. Field names cover
// the union of PBX variants seen in the wild; unused fields are ignored per
// event type.
type inboundFrame struct {
	Event      string       `json:"event"`
	StreamSid  string       `json:"streamSid,omitempty"`
	StreamID   string       `json:"streamId,omitempty"`
	AccountSid string       `json:"accountSid,omitempty"`
	CallSid    string       `json:"callSid,omitempty"`
	MediaFmt   *MediaFormat `json:"mediaFormat,omitempty"`
	ExtraData  string       `json:"extraData,omitempty"`
	CzData     string       `json:"czdata,omitempty"`
	Media      *mediaPayload `json:"media,omitempty"`
	DTMF       *dtmfPayload  `json:"dtmf,omitempty"`
}

type mediaPayload struct {
	Payload   string `json:"payload,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	ChunkDurnMs int  `json:"chunk_durn_ms,omitempty"`
}

type dtmfPayload struct {
	Digit string `json:"digit,omitempty"`
}

// Event is the adapter's normalized representation of one inbound frame,
// handed to the session event loop.
type Event struct {
	Type        EventType
	StreamID    string
	AccountSid  string
	CallSid     string
	MediaFormat *MediaFormat
	ExtraData   map[string]interface{}
	CzData      map[string]interface{}
	// AudioPCM is present only for EventMedia, already normalized to 8kHz
	// mono 16-bit little-endian linear PCM.
	AudioPCM  []byte
	DTMFDigit string
	User      *User
}

var bareKeyValue = regexp.MustCompile(`([{,]\s*)([A-Za-z0-9_]+)\s*=\s*([^,{}]+)`)
var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// decodeExtraData parses the loosely-formatted extraData side-channel: a
// base64 blob of key=value pairs inside brace syntax rather than proper
// JSON. Bare values are quoted and trailing commas stripped before
// unmarshaling. Any failure yields nil, never an error the caller must
// handle specially.
func decodeExtraData(encoded string) map[string]interface{} {
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	normalized := bareKeyValue.ReplaceAllStringFunc(string(raw), func(match string) string {
		parts := bareKeyValue.FindStringSubmatch(match)
		if len(parts) != 4 {
			return match
		}
		prefix, key, value := parts[1], parts[2], strings.TrimSpace(parts[3])
		value = strings.Trim(value, `"`)
		return prefix + `"` + key + `":"` + value + `"`
	})
	normalized = trailingComma.ReplaceAllString(normalized, "$1")
	normalized = strings.TrimRight(strings.TrimSpace(normalized), ",")
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(normalized), &out); err != nil {
		return nil
	}
	return out
}

// decodeCzData parses the strict base64-JSON side-channel.
func decodeCzData(encoded string) map[string]interface{} {
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// mediaEnvelope builds the outbound media frame per the PBX wire format.
func mediaEnvelope(streamID string, payload []byte) []byte {
	msg := map[string]interface{}{
		"event":     "media",
		"streamSid": streamID,
		"media": map[string]interface{}{
			"payload": base64.StdEncoding.EncodeToString(payload),
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

// User is the caller identity/custom-parameter blob carried in a start
// frame's side channels.
type User struct {
	Name         string                 `mapstructure:"name"`
	CallerID     string                 `mapstructure:"caller_id"`
	DID          string                 `mapstructure:"did"`
	Direction    string                 `mapstructure:"direction"`
	CustomParams map[string]interface{} `mapstructure:",remain"`
}

// DecodeUser merges the extraData and czdata side-channel maps into a User,
// preferring czdata's fields on key collisions since it is strictly typed
// JSON. Returns nil if both maps are empty.
func DecodeUser(extraData, czData map[string]interface{}) *User {
	if len(extraData) == 0 && len(czData) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(extraData)+len(czData))
	for k, v := range extraData {
		merged[k] = v
	}
	for k, v := range czData {
		merged[k] = v
	}

	var user User
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &user,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil
	}
	if err := decoder.Decode(merged); err != nil {
		return nil
	}
	return &user
}

// ackEnvelope builds the acknowledgment frame for a PBX control event
// (transfer-call, hangup-call) that this adapter does not act on beyond
// confirming receipt.
func ackEnvelope(streamID, event string) []byte {
	msg := map[string]interface{}{
		"event":     "ack",
		"streamSid": streamID,
		"ack": map[string]interface{}{
			"event": event,
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

// stopEnvelope builds the self-initiated termination frame.
func stopEnvelope(streamID, accountSid, callSid string, sequenceNumber int) []byte {
	msg := map[string]interface{}{
		"event":          "stop",
		"sequenceNumber": sequenceNumber,
		"stop": map[string]interface{}{
			"accountSid": accountSid,
			"callSid":    callSid,
		},
		"streamSid": streamID,
	}
	b, _ := json.Marshal(msg)
	return b
}
