package chat

import (
	"testing"
	"time"
)

func testTime() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

func TestRenderSystemText(t *testing.T) {
	added := systemMessage("m1", "c1", testTime(), SystemEvent{
		Action:     ActionAddMember,
		ActorID:    "a",
		ActorName:  "Asha",
		TargetID:   "c",
		TargetName: "Chen",
	})
	joined := systemMessage("m2", "c1", testTime(), SystemEvent{Action: ActionJoin, ActorID: "a"})

	cases := []struct {
		name     string
		message  Message
		language string
		expected string
	}{
		{name: "english add", message: added, language: "en", expected: "Asha added Chen"},
		{name: "hindi add", message: added, language: "hi", expected: "Asha ने Chen को जोड़ा"},
		{name: "regional tag", message: added, language: "hi-IN", expected: "Asha ने Chen को जोड़ा"},
		{name: "unknown language", message: added, language: "fr", expected: "Asha added Chen"},
		{name: "missing name", message: joined, language: "en", expected: "User joined the group"},
		{name: "user message", message: Message{Type: MessageTypeUser, Text: "hi"}, language: "hi", expected: "hi"},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := RenderSystemText(testCase.message, testCase.language); got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestSystemMessageCarriesKey(t *testing.T) {
	left := systemMessage("m1", "c1", testTime(), SystemEvent{Action: ActionLeave, ActorID: "b", ActorName: "Bilal"})
	if left.System.I18nKey != KeyLeave || left.Text != "" || left.Type != MessageTypeSystem {
		t.Fatalf("unexpected system message %+v", left)
	}
}
