package chat

import (
	"strings"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
)

const (
	LanguageEnglish = "en"
	LanguageHindi   = "hi"

	actorPlaceholder  = "{{actor}}"
	targetPlaceholder = "{{target}}"
)

var systemCatalog = map[string]map[string]string{
	LanguageEnglish: {
		KeyJoin:      "{{actor}} joined the group",
		KeyLeave:     "{{actor}} left the group",
		KeyAddMember: "{{actor}} added {{target}}",
	},
	LanguageHindi: {
		KeyJoin:      "{{actor}} समूह में शामिल हुए",
		KeyLeave:     "{{actor}} ने समूह छोड़ दिया",
		KeyAddMember: "{{actor}} ने {{target}} को जोड़ा",
	},
}

// RenderSystemText localizes a system message from its key and the names recorded in
// it. Unknown languages fall back to English; non-system messages return their text.
func RenderSystemText(message Message, language string) string {
	if message.Type != MessageTypeSystem || message.System == nil {
		return message.Text
	}
	event := message.System
	key := event.I18nKey
	if key == "" {
		key = actionKeys[event.Action]
	}
	template, ok := lookupTemplate(language, key)
	if !ok {
		return key
	}
	return strings.NewReplacer(
		actorPlaceholder, nameOrFallback(event.ActorName),
		targetPlaceholder, nameOrFallback(event.TargetName),
	).Replace(template)
}

func lookupTemplate(language, key string) (string, bool) {
	language = strings.ToLower(strings.TrimSpace(language))
	if base, _, found := strings.Cut(language, "-"); found {
		language = base
	}
	if templates, ok := systemCatalog[language]; ok {
		if template, ok := templates[key]; ok {
			return template, true
		}
	}
	template, ok := systemCatalog[LanguageEnglish][key]
	return template, ok
}

func nameOrFallback(name string) string {
	if strings.TrimSpace(name) == "" {
		return profiles.FallbackName
	}
	return name
}
