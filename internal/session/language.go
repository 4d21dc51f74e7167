package session

import "sort"

// languageNames maps supported ISO 639-1 codes to display names.
var languageNames = map[string]string{
	"en": "English",
	"es": "Español",
	"fr": "Français",
	"de": "Deutsch",
	"it": "Italiano",
	"pt": "Português",
	"ru": "Русский",
	"ja": "日本語",
	"ko": "한국어",
	"zh": "中文",
	"ar": "العربية",
	"hi": "हिन्दी",
	"nl": "Nederlands",
	"pl": "Polski",
	"tr": "Türkçe",
	"vi": "Tiếng Việt",
	"id": "Bahasa Indonesia",
	"th": "ไทย",
	"sv": "Svenska",
	"da": "Dansk",
	"no": "Norsk",
	"fi": "Suomi",
	"cs": "Čeština",
	"el": "Ελληνικά",
	"he": "עברית",
	"uk": "Українська",
}

// Language pairs a code with its display name.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// SupportedLanguage reports whether code is in the supported set.
func SupportedLanguage(code string) bool {
	_, ok := languageNames[code]
	return ok
}

// LanguageName returns the display name for code, or code itself when the
// language is unknown.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

// Languages returns the supported languages sorted by code.
func Languages() []Language {
	out := make([]Language, 0, len(languageNames))
	for code, name := range languageNames {
		out = append(out, Language{Code: code, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
