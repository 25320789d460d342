package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/agent"
	"github.com/lexiqai/voice-gateway/internal/audio"
	"github.com/lexiqai/voice-gateway/internal/calllog"
	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/llm"
	"github.com/lexiqai/voice-gateway/internal/pacer"
	"github.com/lexiqai/voice-gateway/internal/tts"
)

type fakeLLM struct {
	reply      string
	err        error
	disconnect bool
}

func (f *fakeLLM) Complete(ctx context.Context, history []llm.Message, systemPrompt, firstGreeting, userMessage, language string) (string, error) {
	return f.reply, f.err
}

func (f *fakeLLM) ClassifyDisconnect(ctx context.Context, userMessage string) (bool, error) {
	return f.disconnect, nil
}

type fakeTTS struct {
	chunks []*tts.AudioChunk
	err    error
}

func (f *fakeTTS) Synthesize(text, language string) (<-chan *tts.AudioChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan *tts.AudioChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}
func (f *fakeTTS) Stop() error    { return nil }
func (f *fakeTTS) Close() error   { return nil }
func (f *fakeTTS) IsActive() bool { return false }

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) SendMedia(streamID string, pcm []byte) error {
	f.sent = append(f.sent, pcm)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ShortSpeechThreshold:       20,
		MinAudioBytesForCompletion: 50000,
		HistoryMaxExchanges:        10,
		PacerFrameDurationMs:       0,
		PacerGraceWindowMs:         0,
		LogBatchSize:               5,
		LogBatchTimeoutMs:          1000,
	}
}

func newTestSession(t *testing.T, llmClient llm.Client, ttsClient tts.TTSClient) (*CallSession, *fakeSender) {
	t.Helper()
	cfg := testConfig()
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cs := &CallSession{
		cfg:       cfg,
		llmClient: llmClient,
		ttsClient: ttsClient,
		pacer:     pacer.New(cfg, sender, "stream-1", zerolog.Nop()),
		agentCfg:  &agent.Config{SystemPrompt: "You are helpful.", Language: "en"},
		turnState: StateIdle,
		logger:    zerolog.Nop(),
		ctx:       ctx,
		cancel:    cancel,
		terminate: make(chan string, 1),
		done:      make(chan struct{}),
	}
	return cs, sender
}

func TestHandleInterim_ShortNearCompletionDoesNotCancel(t *testing.T) {
	cs, sender := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	cs.setState(StateSpeaking)
	cs.pacer.Play(make([]byte, 60000), func() bool { return false })
	_ = sender

	cs.handleInterim("um")

	if cs.getState() != StateSpeaking {
		t.Errorf("expected Speaking to persist through a short, late interim, got %s", cs.getState())
	}
}

func TestHandleInterim_VADSpeechOverridesShortNearCompletion(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	cs.setState(StateSpeaking)
	cs.pacer.Play(make([]byte, 60000), func() bool { return false })
	cs.callerSpeaking = true

	cs.handleInterim("um")

	if cs.getState() != StateListening {
		t.Errorf("expected genuine caller audio energy to override the near-completion grace period, got %s", cs.getState())
	}
}

func TestHandleInterim_LongInterimCancelsPlayback(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	cs.setState(StateSpeaking)

	cs.handleInterim("actually wait I have a different question entirely")

	if cs.getState() != StateListening {
		t.Errorf("expected a long interim to cancel playback into Listening, got %s", cs.getState())
	}
}

func TestHandleInterim_IgnoredOutsideSpeaking(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	cs.setState(StateListening)

	cs.handleInterim("a long enough interim to normally cancel things")

	if cs.getState() != StateListening {
		t.Errorf("expected state unchanged, got %s", cs.getState())
	}
}

func TestHandleFinal_IgnoredWhileThinkingOrEnding(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	before := cs.currentTurnID()

	cs.setState(StateThinking)
	cs.handleFinal("hello")
	if cs.currentTurnID() != before {
		t.Error("expected a final arriving while Thinking to be dropped, not start a new turn")
	}

	cs.setState(StateEnding)
	cs.handleFinal("hello")
	if cs.currentTurnID() != before {
		t.Error("expected a final arriving while Ending to be dropped")
	}
}

func TestRunLLMTurn_EmptyReplyLeavesHistoryEmptyAndNoAudio(t *testing.T) {
	cs, sender := newTestSession(t, &fakeLLM{reply: ""}, &fakeTTS{})
	cs.setState(StateThinking)
	turnID := cs.nextTurnID()

	cs.runLLMTurn(turnID, "hello")

	if len(cs.getHistory()) != 0 {
		t.Error("expected history to remain empty on an empty LLM reply")
	}
	if len(sender.sent) != 0 {
		t.Error("expected no audio frames sent on an empty LLM reply")
	}
	if cs.getState() != StateListening {
		t.Errorf("expected Listening after an empty reply, got %s", cs.getState())
	}
}

func TestRunLLMTurn_ReplyAppendsHistoryAndSpeaks(t *testing.T) {
	cs, sender := newTestSession(t, &fakeLLM{reply: "Sure, here you go."}, &fakeTTS{
		chunks: []*tts.AudioChunk{{Data: make([]byte, 4000)}},
	})
	cs.setState(StateThinking)
	turnID := cs.nextTurnID()

	cs.runLLMTurn(turnID, "what are your hours")

	history := cs.getHistory()
	if len(history) != 2 {
		t.Fatalf("expected one user/assistant pair, got %d messages", len(history))
	}
	if history[0].Role != llm.RoleUser || history[1].Role != llm.RoleAssistant {
		t.Error("expected strict user-then-assistant alternation")
	}
	if len(sender.sent) == 0 {
		t.Error("expected audio frames to have been sent")
	}
	if cs.getState() != StateListening {
		t.Errorf("expected Listening once playback completes, got %s", cs.getState())
	}
}

func TestRunLLMTurn_StaleTurnDropsAudioAtThePacerBoundary(t *testing.T) {
	cs, sender := newTestSession(t, &fakeLLM{reply: "late reply"}, &fakeTTS{
		chunks: []*tts.AudioChunk{{Data: make([]byte, 4000)}},
	})
	cs.setState(StateThinking)
	turnID := cs.nextTurnID()
	cs.nextTurnID() // supersede it before the reply lands

	cs.runLLMTurn(turnID, "question")

	if len(sender.sent) != 0 {
		t.Error("expected a stale turn's audio to be dropped at the pacer boundary")
	}
}

func TestRunLLMTurn_DisconnectIntentEndsTheCall(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{reply: "Goodbye!", disconnect: true}, &fakeTTS{
		chunks: []*tts.AudioChunk{{Data: make([]byte, 10)}},
	})
	cs.setState(StateThinking)
	turnID := cs.nextTurnID()

	cs.runLLMTurn(turnID, "that's all, bye")

	select {
	case <-cs.done:
	default:
		t.Error("expected the call to have been finished after a disconnect-intent turn")
	}
}

func TestRunLLMTurn_SynthesizeErrorReturnsToListening(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{reply: "hi"}, &fakeTTS{err: errors.New("tts down")})
	cs.setState(StateThinking)
	turnID := cs.nextTurnID()

	cs.runLLMTurn(turnID, "hello")

	if cs.getState() != StateListening {
		t.Errorf("expected Listening after a TTS failure, got %s", cs.getState())
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})

	cs.Terminate("operator_requested")
	cs.Terminate("operator_requested_again")

	select {
	case reason := <-cs.terminate:
		if reason != "operator_requested" {
			t.Errorf("expected the first reason to win, got %q", reason)
		}
	default:
		t.Fatal("expected exactly one terminate request queued")
	}

	select {
	case <-cs.terminate:
		t.Error("expected the second Terminate call to be a no-op")
	default:
	}
}

func TestAppendHistory_BoundsToMaxExchanges(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})

	for i := 0; i < 5; i++ {
		cs.appendHistory(2, llm.Message{Role: llm.RoleUser, Text: "q"}, llm.Message{Role: llm.RoleAssistant, Text: "a"})
	}

	history := cs.getHistory()
	if len(history) != 4 {
		t.Fatalf("expected history bounded to 2 exchanges (4 messages), got %d", len(history))
	}
}

func TestNextTurnID_MonotonicAndStaleness(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})

	first := cs.nextTurnID()
	second := cs.nextTurnID()

	if second <= first {
		t.Errorf("expected turn ids to increase, got %d then %d", first, second)
	}
	if !cs.isStale(first) {
		t.Error("expected the first turn id to be stale once a second turn started")
	}
	if cs.isStale(second) {
		t.Error("expected the current turn id to not be stale")
	}
}

func TestFeedVAD_LoudAudioMarksCallerSpeaking(t *testing.T) {
	cs, _ := newTestSession(t, &fakeLLM{}, &fakeTTS{})
	cs.vad = audio.NewVADDetector(&audio.VADConfig{
		EnergyThreshold: 500,
		SilenceFrames:   2,
		FrameSize:       160,
	})

	loud := make([]byte, 320)
	for i := 0; i < len(loud); i += 2 {
		loud[i] = 0x00
		loud[i+1] = 0x7F // large positive 16-bit sample, well above the energy threshold
	}
	cs.feedVAD(loud)
	if !cs.getCallerSpeaking() {
		t.Error("expected loud audio to mark the caller as speaking")
	}

	silence := make([]byte, 320)
	cs.feedVAD(silence)
	cs.feedVAD(silence)
	if cs.getCallerSpeaking() {
		t.Error("expected enough trailing silence frames to clear caller speaking")
	}
}

func TestFinalize_UnknownLeadStatusFinalizesWithoutError(t *testing.T) {
	store := calllog.NewLoggingStore(zerolog.Nop())
	cl, err := calllog.Open(testConfig(), store, zerolog.Nop(), calllog.CallMetadata{CallID: "c1", StartedAt: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := cl.Finalize(calllog.LeadStatus("not-a-real-status")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
