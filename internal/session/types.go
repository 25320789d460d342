// Package session implements the per-call conversation orchestrator: the
// CallSession data model and the TurnController state machine that fans
// caller audio into STT, couples finals into the LLM, pipes LLM text into
// TTS, paces audio back out, and arbitrates interruption.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/agent"
	"github.com/lexiqai/voice-gateway/internal/audio"
	"github.com/lexiqai/voice-gateway/internal/calllog"
	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/llm"
	"github.com/lexiqai/voice-gateway/internal/observability"
	"github.com/lexiqai/voice-gateway/internal/pacer"
	"github.com/lexiqai/voice-gateway/internal/stt"
	"github.com/lexiqai/voice-gateway/internal/telephony"
	"github.com/lexiqai/voice-gateway/internal/tts"
)

// TurnState is one of the five states the per-call conversation can be in.
type TurnState string

const (
	StateIdle      TurnState = "Idle"
	StateListening TurnState = "Listening"
	StateThinking  TurnState = "Thinking"
	StateSpeaking  TurnState = "Speaking"
	StateEnding    TurnState = "Ending"
)

// CallSession is the state and collaborators for one live call. Mutations
// to turnState, activeTurnID, language, and history are serialized through
// mu; audio byte transport does not share this lock.
type CallSession struct {
	// Identity
	CallID      string
	StreamID    string
	AccountSid  string
	CallerNum   string
	CalledNum   string
	Direction   string

	// Collaborators
	cfg       *config.Config
	adapter   *telephony.Adapter
	stt       stt.STTClient
	llmClient llm.Client
	ttsClient tts.TTSClient
	pacer     *pacer.AudioPacer
	callLog   *calllog.CallLogger
	store     calllog.Store
	resolver  agent.Resolver
	vad       *audio.VADDetector

	agentCfg *agent.Config
	user     *telephony.User

	mu              sync.Mutex
	language        string
	history         []llm.Message
	turnState       TurnState
	activeTurnID    int64
	leadStatus      calllog.LeadStatus
	bufferedInterim string
	callerSpeaking  bool

	startedAt  time.Time
	answeredAt time.Time
	endedAt    time.Time

	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	terminate     chan string
	terminateOnce sync.Once
	finishOnce    sync.Once
	done          chan struct{}
}

// currentTurnID returns the active turn id under lock.
func (cs *CallSession) currentTurnID() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.activeTurnID
}

// isStale reports whether turnID no longer matches the active turn; used by
// the pacer and by turn-completion handlers to drop stale work.
func (cs *CallSession) isStale(turnID int64) bool {
	return cs.currentTurnID() != turnID
}

// setState transitions turnState under lock.
func (cs *CallSession) setState(s TurnState) {
	cs.mu.Lock()
	cs.turnState = s
	cs.mu.Unlock()
}

func (cs *CallSession) getState() TurnState {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.turnState
}

// nextTurnID increments and returns the new active turn id.
func (cs *CallSession) nextTurnID() int64 {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.activeTurnID++
	return cs.activeTurnID
}

// appendHistory appends a user/assistant pair, preserving strict
// alternation, then trims to the configured bound.
func (cs *CallSession) appendHistory(maxExchanges int, entries ...llm.Message) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.history = append(cs.history, entries...)
	maxMessages := maxExchanges * 2
	if len(cs.history) > maxMessages {
		cs.history = cs.history[len(cs.history)-maxMessages:]
	}
}

func (cs *CallSession) getHistory() []llm.Message {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]llm.Message, len(cs.history))
	copy(out, cs.history)
	return out
}

func (cs *CallSession) setLanguage(lang string) {
	cs.mu.Lock()
	cs.language = lang
	cs.mu.Unlock()
}

func (cs *CallSession) getLanguage() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.language
}

func (cs *CallSession) setBufferedInterim(text string) {
	cs.mu.Lock()
	cs.bufferedInterim = text
	cs.mu.Unlock()
}

// takeBufferedInterim returns and clears the last interim seen, for use when
// an utteranceEnd arrives with no final of its own.
func (cs *CallSession) takeBufferedInterim() string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	text := cs.bufferedInterim
	cs.bufferedInterim = ""
	return text
}

func (cs *CallSession) setLeadStatus(status calllog.LeadStatus) {
	cs.mu.Lock()
	cs.leadStatus = status
	cs.mu.Unlock()
}

func (cs *CallSession) getLeadStatus() calllog.LeadStatus {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.leadStatus
}

// feedVAD runs one chunk of inbound caller audio through the energy-based
// speech detector and records whether the caller is currently speaking, the
// corroborating signal handleInterim uses alongside the transcript text
// itself when deciding whether a short interim is noise or a real barge-in.
func (cs *CallSession) feedVAD(pcm []byte) {
	if cs.vad == nil || len(pcm) < 2 {
		return
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	speaking, _, _ := cs.vad.ProcessFrame(samples)

	cs.mu.Lock()
	cs.callerSpeaking = speaking
	cs.mu.Unlock()
}

func (cs *CallSession) getCallerSpeaking() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.callerSpeaking
}
