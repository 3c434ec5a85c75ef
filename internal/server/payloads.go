package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/blocks"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/presence"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
)

type renameRequestPayload struct {
	Name string `json:"name"`
}

type friendRequestPayload struct {
	ToUserID string `json:"to_user_id"`
}

type directRequestPayload struct {
	PeerID string `json:"peer_id"`
}

type groupRequestPayload struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

type messageRequestPayload struct {
	Text string `json:"text"`
}

type memberRequestPayload struct {
	UserID string `json:"user_id"`
}

type idPayload struct {
	ID string `json:"id"`
}

type profilePayload struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func newProfilePayload(profile profiles.Profile) profilePayload {
	return profilePayload{UID: profile.UserID, Name: profile.DisplayName, Email: profile.Email}
}

func newProfilePayloads(items []profiles.Profile) []profilePayload {
	payloads := make([]profilePayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, newProfilePayload(item))
	}
	return payloads
}

type presencePayload struct {
	UID        string     `json:"uid"`
	Online     bool       `json:"online"`
	Stale      bool       `json:"stale,omitempty"`
	LastActive *time.Time `json:"lastActive,omitempty"`
}

func newPresencePayload(status presence.Status) presencePayload {
	payload := presencePayload{UID: status.UserID, Online: status.Online, Stale: status.Stale}
	if !status.LastActive.IsZero() {
		lastActive := status.LastActive
		payload.LastActive = &lastActive
	}
	return payload
}

type friendPayload struct {
	UID        string     `json:"uid"`
	Name       string     `json:"name"`
	Email      string     `json:"email,omitempty"`
	Online     bool       `json:"online"`
	LastActive *time.Time `json:"lastActive,omitempty"`
	Since      time.Time  `json:"since"`
}

func newFriendPayloads(friends []social.Friend) []friendPayload {
	payloads := make([]friendPayload, 0, len(friends))
	for _, friend := range friends {
		payload := friendPayload{
			UID:    friend.UserID,
			Name:   friend.Name,
			Email:  friend.Email,
			Online: friend.Online,
			Since:  friend.Since,
		}
		if !friend.LastActive.IsZero() {
			lastActive := friend.LastActive
			payload.LastActive = &lastActive
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

type pendingRequestPayload struct {
	ID        string    `json:"id"`
	FromUID   string    `json:"fromUid"`
	FromName  string    `json:"fromName"`
	FromEmail string    `json:"fromEmail,omitempty"`
	ToUID     string    `json:"toUid"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func newPendingRequestPayloads(requests []social.PendingRequest) []pendingRequestPayload {
	payloads := make([]pendingRequestPayload, 0, len(requests))
	for _, request := range requests {
		payloads = append(payloads, pendingRequestPayload{
			ID:        request.ID,
			FromUID:   request.FromUserID,
			FromName:  request.FromName,
			FromEmail: request.FromEmail,
			ToUID:     request.ToUserID,
			Status:    string(request.Status),
			CreatedAt: request.CreatedAt,
		})
	}
	return payloads
}

type blockPayload struct {
	UID       string    `json:"uid"`
	BlockedAt time.Time `json:"blockedAt"`
}

func newBlockPayloads(items []blocks.Block) []blockPayload {
	payloads := make([]blockPayload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, blockPayload{UID: item.BlockedID, BlockedAt: item.CreatedAt})
	}
	return payloads
}

type conversationPayload struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Participants     []string  `json:"participants"`
	ParticipantNames []string  `json:"participantNames"`
	GroupName        string    `json:"groupName,omitempty"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Archived         bool      `json:"archived,omitempty"`
}

func newConversationPayload(conversation chat.Conversation) conversationPayload {
	participants := conversation.Participants
	if participants == nil {
		participants = []string{}
	}
	names := conversation.ParticipantNames
	if names == nil {
		names = []string{}
	}
	return conversationPayload{
		ID:               conversation.ID,
		Type:             string(conversation.Kind),
		Participants:     participants,
		ParticipantNames: names,
		GroupName:        conversation.GroupName,
		CreatedBy:        conversation.CreatedBy,
		CreatedAt:        conversation.CreatedAt,
		UpdatedAt:        conversation.UpdatedAt,
		Archived:         conversation.Archived,
	}
}

type summaryPayload struct {
	conversationPayload
	LastMessage *messagePayload `json:"lastMessage,omitempty"`
	Friend      bool            `json:"friend"`
	PeerOnline  bool            `json:"peerOnline"`
}

func newSummaryPayloads(summaries []chat.ConversationSummary, language string) []summaryPayload {
	payloads := make([]summaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payload := summaryPayload{
			conversationPayload: newConversationPayload(summary.Conversation),
			Friend:              summary.Friend,
			PeerOnline:          summary.PeerOnline,
		}
		if summary.LastMessage != nil {
			last := newMessagePayload(*summary.LastMessage, language)
			payload.LastMessage = &last
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

// messagePayload is the wire form of a message. Text of system messages is rendered
// for the requested language and never stored.
type messagePayload struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderUID      string    `json:"senderUid"`
	SenderName     string    `json:"senderName"`
	Text           string    `json:"text,omitempty"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	ActionType     string    `json:"actionType,omitempty"`
	ActorUID       string    `json:"actorUid,omitempty"`
	ActorUsername  string    `json:"actorUsername,omitempty"`
	TargetUID      string    `json:"targetUid,omitempty"`
	TargetUsername string    `json:"targetUsername,omitempty"`
	I18nKey        string    `json:"i18nKey,omitempty"`
}

func newMessagePayload(message chat.Message, language string) messagePayload {
	payload := messagePayload{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderUID:      message.SenderID,
		SenderName:     message.SenderName,
		Text:           message.Text,
		Type:           string(message.Type),
		Timestamp:      message.CreatedAt,
	}
	if event := message.System; event != nil {
		payload.Text = chat.RenderSystemText(message, language)
		payload.ActionType = string(event.Action)
		payload.ActorUID = event.ActorID
		payload.ActorUsername = event.ActorName
		payload.TargetUID = event.TargetID
		payload.TargetUsername = event.TargetName
		payload.I18nKey = event.I18nKey
	}
	return payload
}

func newMessagePayloads(messages []chat.Message, language string) []messagePayload {
	payloads := make([]messagePayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, newMessagePayload(message, language))
	}
	return payloads
}
