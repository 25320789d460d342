package session

import (
	"time"

	"github.com/lexiqai/voice-gateway/internal/calllog"
	"github.com/lexiqai/voice-gateway/internal/language"
	"github.com/lexiqai/voice-gateway/internal/llm"
	"github.com/lexiqai/voice-gateway/internal/observability"
	"github.com/lexiqai/voice-gateway/internal/pacer"
	"github.com/lexiqai/voice-gateway/internal/stt"
)

// handleTranscription routes one STT result to the interim/final/utterance-
// end handler per the state table: interims only ever matter while the agent
// is speaking (they are how a barge-in is detected); finals and utterance
// ends go to handleFinal, which drops them only while Thinking or Ending.
func (cs *CallSession) handleTranscription(result *stt.TranscriptionResult) {
	switch {
	case result.IsUtteranceEnd:
		if buffered := cs.takeBufferedInterim(); buffered != "" {
			cs.handleFinal(buffered)
		}

	case result.IsFinal:
		if result.Confidence > 0 && result.Confidence < stt.MinFinalConfidence {
			return
		}
		cs.takeBufferedInterim()
		cs.handleFinal(result.Text)

	default:
		cs.setBufferedInterim(result.Text)
		cs.handleInterim(result.Text)
	}
}

// handleInterim applies the smart-interruption gate. It only acts while the
// agent is speaking; a short utterance arriving while playback is already
// most of the way through a sentence is treated as noise, not a barge-in —
// unless the caller's actual audio energy corroborates real speech, in which
// case a transcript that merely looks short still cancels playback.
func (cs *CallSession) handleInterim(text string) {
	if cs.getState() != StateSpeaking {
		return
	}

	short := len([]rune(text)) < cs.cfg.ShortSpeechThreshold
	nearDone := cs.pacer.NearCompletion(cs.cfg.MinAudioBytesForCompletion)
	speaking := cs.getCallerSpeaking()

	if short && nearDone && !speaking {
		// Let the agent finish what it's saying; re-evaluated on the next
		// interim or when playback completes on its own.
		return
	}

	cs.cancelPlayback()
}

// cancelPlayback stops the pacer and moves the conversation to Listening, the
// barge-in path.
func (cs *CallSession) cancelPlayback() {
	cs.pacer.Stop()
	cs.setState(StateListening)
	observability.RecordBargeIn()
}

// handleFinal starts a new turn from a completed caller utterance. Arriving
// while the agent is speaking counts as a (belated) barge-in; arriving while
// already Thinking or Ending is a duplicate and is dropped.
func (cs *CallSession) handleFinal(text string) {
	switch cs.getState() {
	case StateEnding, StateThinking:
		return
	case StateSpeaking:
		cs.cancelPlayback()
	}

	turnID := cs.nextTurnID()
	cs.setState(StateThinking)
	go cs.runLLMTurn(turnID, text)
}

// runLLMTurn resolves the caller's language for this turn, asks the LLM for
// a reply, classifies disconnect intent, appends the exchange to history and
// the transcript, then either plays the reply or ends the call. It is not
// cancelled mid-flight when superseded; only the final audio emission is
// gated on the turn still being current, per the pacer's isStale check.
func (cs *CallSession) runLLMTurn(turnID int64, text string) {
	lang := language.Detect(text, cs.getLanguage())
	if !cs.isStale(turnID) {
		cs.setLanguage(lang)
	}

	history := cs.getHistory()
	reply, err := cs.llmClient.Complete(cs.ctx, history, cs.agentCfg.SystemPrompt, cs.agentCfg.FirstMessage, text, lang)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("llm completion failed")
		reply = ""
	}

	disconnect, err := cs.llmClient.ClassifyDisconnect(cs.ctx, text)
	if err != nil {
		cs.logger.Debug().Err(err).Msg("disconnect classification failed")
	}

	if cs.callLog != nil {
		cs.callLog.Append(calllog.Entry{
			Type: calllog.EntryUser, Text: text, Language: lang,
			Timestamp: time.Now(), Source: calllog.SourceSTT,
		})
	}
	cs.setLeadStatus(calllog.LeadStatusMaybe)

	if reply == "" {
		observability.RecordTurnOutcome("skipped")
		if !cs.isStale(turnID) {
			cs.setState(StateListening)
		}
		return
	}

	cs.appendHistory(cs.cfg.HistoryMaxExchanges,
		llm.Message{Role: llm.RoleUser, Text: text},
		llm.Message{Role: llm.RoleAssistant, Text: reply},
	)
	if cs.callLog != nil {
		cs.callLog.Append(calllog.Entry{
			Type: calllog.EntryAssistant, Text: reply, Language: lang,
			Timestamp: time.Now(), Source: calllog.SourceTTS,
		})
	}

	if disconnect {
		if !cs.isStale(turnID) {
			cs.setState(StateEnding)
		}
		cs.playReply(turnID, reply, lang)
		cs.finish("caller_disconnect_intent")
		return
	}

	if !cs.isStale(turnID) {
		cs.setState(StateSpeaking)
	}
	cs.playReply(turnID, reply, lang)
}

// playReply synthesizes text and paces it out, dropping the audio at the
// pacer boundary if turnID has since gone stale. It is safe to call for an
// already-stale turn: Synthesize still runs (workers run to completion), but
// Play's isStale check means nothing is actually emitted.
func (cs *CallSession) playReply(turnID int64, text, lang string) {
	audioCh, err := cs.ttsClient.Synthesize(text, lang)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("tts synthesize failed")
		observability.RecordTurnOutcome("failed")
		if !cs.isStale(turnID) {
			cs.setState(StateListening)
		}
		return
	}

	var buf []byte
	for chunk := range audioCh {
		buf = append(buf, chunk.Data...)
	}
	if len(buf) == 0 {
		observability.RecordTurnOutcome("failed")
		if !cs.isStale(turnID) {
			cs.setState(StateListening)
		}
		return
	}

	result := cs.pacer.Play(buf, func() bool { return cs.isStale(turnID) })

	if result == pacer.Completed {
		observability.RecordTurnOutcome("spoken")
		if !cs.isStale(turnID) {
			cs.setState(StateListening)
		}
		return
	}
	observability.RecordTurnOutcome("skipped")
}
