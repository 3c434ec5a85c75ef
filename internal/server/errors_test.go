package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
)

func TestErrorBodyMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{err: chat.ErrEmptyMessage, status: http.StatusBadRequest, code: "chat.send_message.empty_text"},
		{err: chat.ErrConversationNotFound, status: http.StatusNotFound, code: "chat.conversation_not_found"},
		{err: chat.ErrAlreadyMember, status: http.StatusConflict, code: "chat.add_member.already_member"},
		{err: chat.ErrTargetBlockedActor, status: http.StatusForbidden, code: "chat.add_member.target_blocked_actor"},
		{err: chat.ErrArchived, status: http.StatusUnprocessableEntity, code: "chat.archived"},
		{err: fmt.Errorf("wrapped: %w", chat.ErrNotGroup), status: http.StatusUnprocessableEntity, code: "chat.not_group"},
		{err: apperr.Unavailablef("chat.send_message.insert_failed", errors.New("disk")), status: http.StatusServiceUnavailable, code: "chat.send_message.insert_failed"},
	}
	for _, tc := range cases {
		status, payload := errorBody(tc.err)
		if status != tc.status || payload.Error != tc.code {
			t.Fatalf("errorBody(%v) = %d %+v, want %d %s", tc.err, status, payload, tc.status, tc.code)
		}
	}
}

func TestErrorBodyHidesUnknownErrors(t *testing.T) {
	status, payload := errorBody(errors.New("connection refused"))
	if status != http.StatusInternalServerError || payload.Error != "internal_error" {
		t.Fatalf("unexpected fallback %d %+v", status, payload)
	}
}
