package config

import (
	"os"
	"testing"
)

func setRequiredEnv() {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("SARVAM_API_KEY", "test-sarvam-key")
	os.Setenv("OPENAI_API_KEY", "test-openai-key")
}

func unsetRequiredEnv() {
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("SARVAM_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
}

func TestLoad(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.SarvamAPIKey != "test-sarvam-key" {
		t.Errorf("Expected SarvamAPIKey 'test-sarvam-key', got '%s'", cfg.SarvamAPIKey)
	}

	if cfg.OpenAIAPIKey != "test-openai-key" {
		t.Errorf("Expected OpenAIAPIKey 'test-openai-key', got '%s'", cfg.OpenAIAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	unsetRequiredEnv()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_MissingOpenAIOnly(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	os.Setenv("SARVAM_API_KEY", "test-sarvam-key")
	os.Unsetenv("OPENAI_API_KEY")
	defer unsetRequiredEnv()

	_, err := Load()
	if err == nil {
		t.Error("Expected error when OPENAI_API_KEY is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.DeepgramLanguage != "en" {
		t.Errorf("Expected default DeepgramLanguage 'en', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.SarvamModel != "bulbul:v2" {
		t.Errorf("Expected default SarvamModel 'bulbul:v2', got '%s'", cfg.SarvamModel)
	}

	if cfg.SarvamDefaultVoice != "anushka" {
		t.Errorf("Expected default SarvamDefaultVoice 'anushka', got '%s'", cfg.SarvamDefaultVoice)
	}

	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAIModel 'gpt-4o-mini', got '%s'", cfg.OpenAIModel)
	}

	if cfg.LLMMaxTokens != 120 {
		t.Errorf("Expected default LLMMaxTokens 120, got %d", cfg.LLMMaxTokens)
	}

	if cfg.LLMTimeoutMs != 4000 {
		t.Errorf("Expected default LLMTimeoutMs 4000, got %d", cfg.LLMTimeoutMs)
	}

	if cfg.AudioBufferSize != 8192 {
		t.Errorf("Expected default AudioBufferSize 8192, got %d", cfg.AudioBufferSize)
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}

	if cfg.VADSilenceFrames != 10 {
		t.Errorf("Expected default VADSilenceFrames 10, got %d", cfg.VADSilenceFrames)
	}
}

func TestLoad_PacerDefaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.PacerFrameDurationMs != 20 {
		t.Errorf("Expected default PacerFrameDurationMs 20, got %d", cfg.PacerFrameDurationMs)
	}

	if cfg.PacerGraceWindowMs != 100 {
		t.Errorf("Expected default PacerGraceWindowMs 100, got %d", cfg.PacerGraceWindowMs)
	}
}

func TestLoad_TurnThresholdDefaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ShortSpeechThreshold != 20 {
		t.Errorf("Expected default ShortSpeechThreshold 20, got %d", cfg.ShortSpeechThreshold)
	}

	if cfg.MinAudioBytesForCompletion != 50000 {
		t.Errorf("Expected default MinAudioBytesForCompletion 50000, got %d", cfg.MinAudioBytesForCompletion)
	}

	if cfg.InterimSpeechWaitMs != 500 {
		t.Errorf("Expected default InterimSpeechWaitMs 500, got %d", cfg.InterimSpeechWaitMs)
	}

	if cfg.CompletionWaitMs != 1000 {
		t.Errorf("Expected default CompletionWaitMs 1000, got %d", cfg.CompletionWaitMs)
	}

	if cfg.HistoryMaxExchanges != 10 {
		t.Errorf("Expected default HistoryMaxExchanges 10, got %d", cfg.HistoryMaxExchanges)
	}

	if cfg.LogBatchSize != 5 {
		t.Errorf("Expected default LogBatchSize 5, got %d", cfg.LogBatchSize)
	}

	if cfg.LogBatchTimeoutMs != 3000 {
		t.Errorf("Expected default LogBatchTimeoutMs 3000, got %d", cfg.LogBatchTimeoutMs)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredEnv()
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.ReconnectMaxAttempts != 3 {
		t.Errorf("Expected default ReconnectMaxAttempts 3, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredEnv()
	os.Unsetenv("LOG_LEVEL")
	defer unsetRequiredEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
