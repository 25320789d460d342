package language

import "testing"

func TestDetect_ShortDevanagariScript(t *testing.T) {
	got := Detect("नमस्ते", "en")
	if got != "hi" {
		t.Errorf("expected hi, got %s", got)
	}
}

func TestDetect_ShortEnglishKeyword(t *testing.T) {
	got := Detect("hello", "hi")
	if got != "en" {
		t.Errorf("expected en, got %s", got)
	}
}

func TestDetect_EmptyTextReturnsFallback(t *testing.T) {
	got := Detect("", "mr")
	if got != "mr" {
		t.Errorf("expected fallback mr, got %s", got)
	}
}

func TestDetect_ShortUnrecognizedTextReturnsFallback(t *testing.T) {
	got := Detect("123", "ta")
	if got != "ta" {
		t.Errorf("expected fallback ta, got %s", got)
	}
}

func TestDetect_LongerEnglishSentence(t *testing.T) {
	got := Detect("what are your business hours today please", "hi")
	if got != "en" {
		t.Errorf("expected en, got %s", got)
	}
}

func TestDetect_LongerTamilScript(t *testing.T) {
	got := Detect("நீங்கள் எப்படி இருக்கிறீர்கள் இன்று", "en")
	if got != "ta" {
		t.Errorf("expected ta, got %s", got)
	}
}

func TestClamp_UnsupportedTagFallsBack(t *testing.T) {
	got := clamp("zz", "en")
	if got != "en" {
		t.Errorf("expected fallback en, got %s", got)
	}
}

func TestClamp_SupportedTagPassesThrough(t *testing.T) {
	got := clamp("bn", "en")
	if got != "bn" {
		t.Errorf("expected bn, got %s", got)
	}
}
