package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lexiqai/voice-gateway/internal/config"
	"github.com/lexiqai/voice-gateway/internal/observability"
	"github.com/lexiqai/voice-gateway/internal/resilience"
)

// policyBlock is appended after the agent's own system prompt and optional
// FirstGreeting block on every request, verbatim.
const policyBlock = "Answer strictly using the information provided above. " +
	"If the user asks for address, phone, timings, or other specifics, check the System Prompt or FirstGreeting. " +
	"If the information is not present, reply briefly that you don't have that information. " +
	"Always end your answer with a short, relevant follow-up question to keep the conversation going. " +
	"Keep the entire reply under 100 tokens."

// disconnectSystemPrompt drives the secondary classifier call.
const disconnectSystemPrompt = "You classify a single caller utterance from a phone conversation. " +
	"Reply with exactly one word: DISCONNECT if the caller is indicating they want to end the call " +
	"(e.g. goodbye, hang up, that's all, no more questions), otherwise CONTINUE."

// followUpByLanguage is used to patch a reply that doesn't end in a
// question, keeping the conversation moving per the policy block above.
var followUpByLanguage = map[string]string{
	"en": "Is there anything else I can help you with?",
	"hi": "क्या मैं आपकी किसी और तरह से मदद कर सकता हूँ?",
	"bn": "আমি কি আপনাকে আর কোনোভাবে সাহায্য করতে পারি?",
	"te": "నేను మీకు మరేదైనా సహాయం చేయగలనా?",
	"ta": "நான் உங்களுக்கு வேறு எதற்கும் உதவ முடியுமா?",
	"mr": "मी तुम्हाला आणखी कशी मदत करू शकतो?",
	"gu": "શું હું તમને બીજી કોઈ રીતે મદદ કરી શકું?",
	"kn": "ನಾನು ನಿಮಗೆ ಇನ್ನೇನಾದರೂ ಸಹಾಯ ಮಾಡಬಹುದೇ?",
	"ml": "എനിക്ക് നിങ്ങളെ മറ്റെന്തെങ്കിലും സഹായിക്കാൻ കഴിയുമോ?",
	"pa": "ਕੀ ਮੈਂ ਤੁਹਾਡੀ ਕਿਸੇ ਹੋਰ ਤਰੀਕੇ ਨਾਲ ਮਦਦ ਕਰ ਸਕਦਾ ਹਾਂ?",
	"or": "ମୁଁ ଆପଣଙ୍କୁ ଆଉ କିଛି ସାହାଯ୍ୟ କରିପାରିବି କି?",
	"as": "মই আপোনাক আন কিবা সহায় কৰিব পাৰোঁ নে?",
	"ur": "کیا میں آپ کی کسی اور طرح مدد کر سکتا ہوں؟",
}

// OpenAIClient implements Client via a direct chat-completion call.
type OpenAIClient struct {
	config         *config.Config
	client         openai.Client
	circuitBreaker *resilience.CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI-backed LLM client.
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	return &OpenAIClient{
		config: cfg,
		client: openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey)),
		circuitBreaker: resilience.NewCircuitBreaker(
			"llm",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Complete composes the system prompt, bounds history to the last 6
// messages, and issues the chat-completion request under a hard timeout.
// Returns "" with a nil error on timeout or an empty model reply; the
// caller must treat that as "no audio this turn" and leave history intact.
func (c *OpenAIClient) Complete(ctx context.Context, history []Message, systemPrompt, firstGreeting, userMessage, language string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	messages := buildMessages(history, systemPrompt, firstGreeting, userMessage)

	metrics := observability.NewCallMetrics("")
	metrics.RecordLLMStart()
	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       c.config.RetryMaxAttempts,
		InitialBackoff:    time.Duration(c.config.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
	var completion *openai.ChatCompletion
	err := c.circuitBreaker.Call(func() error {
		return resilience.Retry(func() error {
			var callErr error
			completion, callErr = c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model:       c.config.OpenAIModel,
				Messages:    messages,
				MaxTokens:   openai.Int(int64(c.config.LLMMaxTokens)),
				Temperature: openai.Float(c.config.LLMTemperature),
			})
			return callErr
		}, retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.UpdateCircuitBreakerState("llm", int(c.circuitBreaker.GetState()))
	metrics.RecordLLMEnd(err == nil)

	if err != nil {
		if ctx.Err() != nil {
			// Hard cap hit; silence this turn, not an error the caller must log loudly.
			return "", nil
		}
		observability.IncrementCircuitBreakerFailures("llm")
		return "", fmt.Errorf("llm completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", nil
	}

	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", nil
	}

	return ensureFollowUp(text, language), nil
}

// ClassifyDisconnect makes a small, ephemeral (non-history) call to decide
// whether userMessage signals the caller wants to end the call.
func (c *OpenAIClient) ClassifyDisconnect(ctx context.Context, userMessage string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.LLMTimeoutMs)*time.Millisecond)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.config.OpenAIModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(disconnectSystemPrompt),
			openai.UserMessage(userMessage),
		},
		MaxTokens:   openai.Int(4),
		Temperature: openai.Float(0),
	})
	if err != nil {
		return false, fmt.Errorf("disconnect classification failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return false, nil
	}

	verdict := strings.ToUpper(strings.TrimSpace(completion.Choices[0].Message.Content))
	return strings.Contains(verdict, "DISCONNECT"), nil
}

// buildMessages composes [system, ...history (last 6), user]. The single
// system message carries the system prompt, the optional FirstGreeting and
// the policy block.
func buildMessages(history []Message, systemPrompt, firstGreeting, userMessage string) []openai.ChatCompletionMessageParamUnion {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if firstGreeting != "" {
		sb.WriteString("\n\nFirstGreeting: ")
		sb.WriteString(firstGreeting)
	}
	sb.WriteString("\n\n")
	sb.WriteString(policyBlock)

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sb.String())}

	const maxHistory = 6
	bounded := history
	if len(bounded) > maxHistory {
		bounded = bounded[len(bounded)-maxHistory:]
	}
	for _, m := range bounded {
		if m.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(m.Text))
		} else {
			messages = append(messages, openai.UserMessage(m.Text))
		}
	}

	messages = append(messages, openai.UserMessage(userMessage))
	return messages
}

// ensureFollowUp appends a language-appropriate follow-up question if the
// model's reply doesn't already end with one, per the policy block.
func ensureFollowUp(text, language string) string {
	trimmed := strings.TrimRight(text, " \t\n")
	if strings.HasSuffix(trimmed, "?") {
		return trimmed
	}
	followUp, ok := followUpByLanguage[language]
	if !ok {
		followUp = followUpByLanguage["en"]
	}
	return trimmed + " " + followUp
}
