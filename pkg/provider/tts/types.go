package tts

import "strings"

// Voice describes the synthesis voice used for one language.
type Voice struct {
	// Lang is the BCP-47 tag used in SSML, e.g. "en-US".
	Lang string

	// Name is the provider-specific voice identifier.
	Name string

	// Gender is "Male" or "Female".
	Gender string
}

// Language is one entry of [SupportedLanguages].
type Language struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Voice string `json:"voice"`
}

// FallbackLanguage is used when a requested language is unknown.
const FallbackLanguage = "en"

var voices = map[string]Voice{
	"en": {Lang: "en-US", Name: "en-US-JennyNeural", Gender: "Female"},
	"zh": {Lang: "zh-CN", Name: "zh-CN-XiaoxiaoNeural", Gender: "Female"},
	"ja": {Lang: "ja-JP", Name: "ja-JP-NanamiNeural", Gender: "Female"},
	"fr": {Lang: "fr-FR", Name: "fr-FR-DeniseNeural", Gender: "Female"},
	"de": {Lang: "de-DE", Name: "de-DE-KatjaNeural", Gender: "Female"},
	"es": {Lang: "es-ES", Name: "es-ES-ElviraNeural", Gender: "Female"},
}

// Display names in the order they are listed. Course files use the Chinese
// names as language labels, so they double as aliases.
var languageNames = []struct{ code, name string }{
	{"en", "英语"},
	{"zh", "中文"},
	{"ja", "日语"},
	{"fr", "法语"},
	{"de", "德语"},
	{"es", "西班牙语"},
}

// LookupVoice resolves lang to a voice. It accepts short codes, display
// names and regional tags such as "en-us" or "zh_CN". The second result is
// false when the English fallback was used.
func LookupVoice(lang string) (Voice, bool) {
	key := strings.ToLower(strings.TrimSpace(lang))
	if v, ok := voices[key]; ok {
		return v, true
	}
	for _, n := range languageNames {
		if n.name == lang {
			return voices[n.code], true
		}
	}
	if i := strings.IndexAny(key, "-_"); i > 0 {
		if v, ok := voices[key[:i]]; ok {
			return v, true
		}
	}
	return voices[FallbackLanguage], false
}

// SupportedLanguages lists the languages with a dedicated voice.
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(languageNames))
	for _, n := range languageNames {
		out = append(out, Language{Code: n.code, Name: n.name, Voice: voices[n.code].Name})
	}
	return out
}
