package session

import (
	"context"
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

// sttDegradedLine is spoken once, the first time a call's STT client reports
// Failed(), since there is no transcript left to drive the conversation.
const sttDegradedLine = "I'm having a little trouble hearing you clearly right now. " +
	"Could you please call back in a moment?"

// New wires one call's collaborators (a fresh streaming STT session, a fresh
// TTS client, a pacer bound to the adapter's outbound stream) and returns a
// CallSession ready to Run. The caller owns starting adapter.Run in its own
// goroutine and calling Run here, normally both from the HTTP handler that
// accepted the WebSocket upgrade.
func New(
	cfg *config.Config,
	adapter *telephony.Adapter,
	resolver agent.Resolver,
	llmClient llm.Client,
	store calllog.Store,
	logger zerolog.Logger,
) *CallSession {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &CallSession{
		cfg:        cfg,
		adapter:    adapter,
		stt:        stt.NewDeepgramClient(cfg),
		llmClient:  llmClient,
		ttsClient:  tts.NewSarvamClient(cfg),
		vad: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       160,
		}),
		store:      store,
		resolver:   resolver,
		turnState:  StateIdle,
		leadStatus: calllog.LeadStatusNotConnected,
		startedAt:  time.Now(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		terminate:  make(chan string, 1),
		done:       make(chan struct{}),
	}
	cs.pacer = pacer.New(cfg, adapter, "", logger)
	return cs
}

// Run drives the call to completion: it blocks on the telephony adapter's
// event stream and the STT transcription stream until the call ends, either
// because the PBX hung up, the caller asked to, or an operator terminated it.
// The collaborators opened in New, plus the call log opened once a start
// frame resolves an identity, are all torn down before Run returns.
func (cs *CallSession) Run() {
	defer cs.cancel()

	events := cs.adapter.Events()
	var transcripts <-chan *stt.TranscriptionResult
	sttStarted := false
	reportedDegraded := false

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				cs.finish("pbx_closed")
				return
			}
			if cs.handlePBXEvent(ev) {
				if !sttStarted {
					if err := cs.stt.Start(); err != nil {
						cs.logger.Warn().Err(err).Msg("stt start failed")
					}
					transcripts = cs.stt.GetTranscription()
					sttStarted = true
				}
			}
			if ev.Type == telephony.EventStop {
				cs.finish("pbx_stop")
				return
			}

		case result, ok := <-transcripts:
			if !ok {
				transcripts = nil
				continue
			}
			cs.handleTranscription(result)

		case reason := <-cs.terminate:
			cs.finish(reason)
			return

		case <-cs.done:
			return
		}

		if sttStarted && cs.stt.Failed() && !reportedDegraded {
			reportedDegraded = true
			cs.speakDegradedFallback()
		}
	}
}

// handlePBXEvent applies one inbound telephony event. Returns true once a
// start frame has resolved the call's identity and the agent persona, which
// is the signal to begin the STT stream and speak the opening greeting.
func (cs *CallSession) handlePBXEvent(ev telephony.Event) bool {
	switch ev.Type {
	case telephony.EventStart:
		return cs.onStart(ev)

	case telephony.EventMedia:
		if err := cs.stt.SendAudio(ev.AudioPCM); err != nil {
			cs.logger.Debug().Err(err).Msg("stt send audio failed")
		}
		cs.feedVAD(ev.AudioPCM)

	case telephony.EventDTMF:
		cs.logger.Debug().Str("digit", ev.DTMFDigit).Msg("dtmf received")

	case telephony.EventTransferCall, telephony.EventHangupCall:
		if err := cs.adapter.SendAck(cs.StreamID, string(ev.Type)); err != nil {
			cs.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to acknowledge pbx control event")
		} else {
			cs.logger.Info().Str("event", string(ev.Type)).Msg("pbx control event acknowledged")
		}

	case telephony.EventAnswer:
		cs.mu.Lock()
		cs.answeredAt = time.Now()
		cs.mu.Unlock()
	}
	return false
}

// onStart resolves the agent persona and opens the call log; failure to
// resolve a persona ends the call immediately since there is nothing to say.
func (cs *CallSession) onStart(ev telephony.Event) bool {
	cs.StreamID = ev.StreamID
	cs.AccountSid = ev.AccountSid
	cs.CallID = ev.CallSid

	cs.mu.Lock()
	cs.user = ev.User
	cs.mu.Unlock()

	callerNum := ""
	if ev.User != nil {
		callerNum = ev.User.CallerID
		cs.CallerNum = ev.User.CallerID
		cs.CalledNum = ev.User.DID
		cs.Direction = ev.User.Direction
	}

	cs.correlationID = observability.NewCorrelationID()
	if cs.CallID == "" {
		cs.CallID = cs.correlationID
	}
	cs.logger = observability.WithCorrelationID(cs.correlationID).With().
		Str("call_id", cs.CallID).Str("stream_id", cs.StreamID).Logger()

	agentCfg, err := cs.resolver.Resolve(cs.ctx, ev.AccountSid, callerNum)
	if err != nil {
		cs.logger.Error().Err(err).Str("account_sid", ev.AccountSid).Msg("no agent resolved, ending call")
		cs.finish("no_agent_resolved")
		return false
	}
	cs.agentCfg = agentCfg
	cs.setLanguage(agentCfg.Language)

	cs.pacer = pacer.New(cs.cfg, cs.adapter, ev.StreamID, cs.logger)
	cs.metrics = observability.NewCallMetrics(cs.CallID)
	cs.metrics.RecordCallStart()

	register(ev.StreamID, cs)

	cl, err := calllog.Open(cs.cfg, cs.store, cs.logger, calllog.CallMetadata{
		CallID:     cs.CallID,
		StreamID:   cs.StreamID,
		AccountSid: cs.AccountSid,
		CallerNum:  cs.CallerNum,
		CalledNum:  cs.CalledNum,
		Direction:  cs.Direction,
		StartedAt:  cs.startedAt,
	})
	if err != nil {
		cs.logger.Warn().Err(err).Msg("call log open failed, continuing without persistence")
	}
	cs.callLog = cl

	turnID := cs.nextTurnID()
	cs.setState(StateSpeaking)
	go cs.playReply(turnID, agentCfg.FirstMessage, agentCfg.Language)

	return true
}

func (cs *CallSession) speakDegradedFallback() {
	if cs.metrics != nil {
		cs.metrics.RecordError("stt_failed", "stt")
	}
	turnID := cs.nextTurnID()
	cs.pacer.Stop()
	cs.setState(StateSpeaking)
	go cs.playReply(turnID, sttDegradedLine, cs.getLanguage())
}

// Terminate requests a graceful shutdown of the call for an external reason
// (an operator action, a disconnect notification). Idempotent.
func (cs *CallSession) Terminate(reason string) {
	cs.terminateOnce.Do(func() {
		select {
		case cs.terminate <- reason:
		default:
		}
	})
}

// finish tears down every collaborator exactly once and finalizes the call
// log with whatever transcript exists. Safe to call more than once; only the
// first call does any work.
func (cs *CallSession) finish(reason string) {
	cs.finishOnce.Do(func() {
		cs.setState(StateEnding)
		if cs.pacer != nil {
			cs.pacer.Stop()
		}
		cs.cancel()

		if cs.stt != nil {
			_ = cs.stt.Close()
		}
		if cs.ttsClient != nil {
			_ = cs.ttsClient.Close()
		}

		if cs.adapter != nil {
			if cs.StreamID != "" {
				_ = cs.adapter.SendStop(cs.StreamID, cs.AccountSid, cs.CallID)
			}
			_ = cs.adapter.Close()
		}

		if cs.callLog != nil {
			if err := cs.callLog.Finalize(cs.getLeadStatus()); err != nil {
				cs.logger.Warn().Err(err).Msg("call log finalize failed")
			}
		}

		if cs.metrics != nil {
			cs.metrics.RecordCallEnd()
		}
		if cs.StreamID != "" {
			unregister(cs.StreamID)
		}

		cs.mu.Lock()
		cs.endedAt = time.Now()
		cs.mu.Unlock()

		cs.logger.Info().Str("reason", reason).Str("call_id", cs.CallID).Msg("call ended")
		close(cs.done)
	})
}
