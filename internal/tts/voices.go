package tts

// VoiceProfile pairs a Sarvam locale code with a validated speaker name.
type VoiceProfile struct {
	Locale  string
	Speaker string
}

// defaultVoice is used for any language tag not present in voiceTable.
var defaultVoice = VoiceProfile{Locale: "en-IN", Speaker: "anushka"}

// voiceTable maps each supported language tag to a Sarvam locale/speaker
// pair. A requested speaker outside validSpeakers is ignored and the
// table's speaker is kept.
var voiceTable = map[string]VoiceProfile{
	"en": {Locale: "en-IN", Speaker: "anushka"},
	"hi": {Locale: "hi-IN", Speaker: "meera"},
	"bn": {Locale: "bn-IN", Speaker: "arvind"},
	"te": {Locale: "te-IN", Speaker: "maitreyi"},
	"ta": {Locale: "ta-IN", Speaker: "pavithra"},
	"mr": {Locale: "mr-IN", Speaker: "arvind"},
	"gu": {Locale: "gu-IN", Speaker: "maya"},
	"kn": {Locale: "kn-IN", Speaker: "maya"},
	"ml": {Locale: "ml-IN", Speaker: "maitreyi"},
	"pa": {Locale: "pa-IN", Speaker: "arvind"},
	"or": {Locale: "or-IN", Speaker: "amol"},
	"as": {Locale: "as-IN", Speaker: "amol"},
	"ur": {Locale: "ur-IN", Speaker: "arvind"},
}

// validSpeakers is the full validated voice set across all locales, used to
// reject an agent-configured voice override that doesn't actually exist.
var validSpeakers = map[string]bool{
	"anushka": true, "meera": true, "arvind": true, "maitreyi": true,
	"pavithra": true, "maya": true, "amol": true,
}

// ResolveVoice returns the {locale, speaker} pair for a language tag. If
// speakerOverride is non-empty and valid it replaces the table's default
// speaker for that locale; an invalid override collapses to the default.
func ResolveVoice(language, speakerOverride string) VoiceProfile {
	profile, ok := voiceTable[language]
	if !ok {
		profile = defaultVoice
	}
	if speakerOverride != "" && validSpeakers[speakerOverride] {
		profile.Speaker = speakerOverride
	}
	return profile
}
