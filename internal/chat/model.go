package chat

import (
	"strings"
	"time"
)

// Kind distinguishes direct conversations from groups.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// MessageType classifies a log entry.
type MessageType string

const (
	MessageTypeUser   MessageType = "user"
	MessageTypeSystem MessageType = "system"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeFile   MessageType = "file"
)

func (t MessageType) valid() bool {
	switch t {
	case MessageTypeUser, MessageTypeSystem, MessageTypeImage, MessageTypeVideo, MessageTypeVoice, MessageTypeFile:
		return true
	default:
		return false
	}
}

// SystemAction is the membership event a system message narrates.
type SystemAction string

const (
	ActionJoin      SystemAction = "join"
	ActionLeave     SystemAction = "leave"
	ActionAddMember SystemAction = "add_member"
)

// SystemSenderID is the sender of every engine-generated message.
const SystemSenderID = "system"

// Localization keys of system messages.
const (
	KeyJoin      = "collaboration.chat.system.join"
	KeyLeave     = "collaboration.chat.system.leave"
	KeyAddMember = "collaboration.chat.system.addMember"
)

var actionKeys = map[SystemAction]string{
	ActionJoin:      KeyJoin,
	ActionLeave:     KeyLeave,
	ActionAddMember: KeyAddMember,
}

// Conversation is a direct or group chat. Participants and ParticipantNames are
// index-aligned; for direct conversations index 0 is the creator.
type Conversation struct {
	ID               string
	Kind             Kind
	Participants     []string
	ParticipantNames []string
	GroupName        string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Archived         bool
}

// IndexOf returns the participant slot of userID, or -1.
func (c Conversation) IndexOf(userID string) int {
	for index, participant := range c.Participants {
		if participant == userID {
			return index
		}
	}
	return -1
}

func (c Conversation) HasParticipant(userID string) bool {
	return c.IndexOf(userID) >= 0
}

// NameOf returns the cached display name of a participant.
func (c Conversation) NameOf(userID string) (string, bool) {
	index := c.IndexOf(userID)
	if index < 0 {
		return "", false
	}
	return c.ParticipantNames[index], true
}

// Peer returns the other participant of a direct conversation.
func (c Conversation) Peer(userID string) (string, bool) {
	if c.Kind != KindDirect || len(c.Participants) != 2 {
		return "", false
	}
	switch userID {
	case c.Participants[0]:
		return c.Participants[1], true
	case c.Participants[1]:
		return c.Participants[0], true
	default:
		return "", false
	}
}

func (c Conversation) clone() Conversation {
	c.Participants = append([]string{}, c.Participants...)
	c.ParticipantNames = append([]string{}, c.ParticipantNames...)
	return c
}

// checkInvariants reports the first violated structural rule, or "".
func (c Conversation) checkInvariants() string {
	if strings.TrimSpace(c.ID) == "" {
		return "conversation without id"
	}
	if len(c.Participants) != len(c.ParticipantNames) {
		return "participants and names differ in length"
	}
	switch c.Kind {
	case KindDirect:
		if c.Archived {
			return "direct conversation is archived"
		}
		if len(c.Participants) != 2 || c.Participants[0] == c.Participants[1] {
			return "direct conversation needs two distinct participants"
		}
	case KindGroup:
		if c.Archived && len(c.Participants) != 0 {
			return "archived group still has participants"
		}
		if !c.Archived && len(c.Participants) == 0 {
			return "active group without participants"
		}
	default:
		return "unknown conversation kind " + string(c.Kind)
	}
	seen := make(map[string]struct{}, len(c.Participants))
	for _, participant := range c.Participants {
		if strings.TrimSpace(participant) == "" {
			return "empty participant id"
		}
		if _, ok := seen[participant]; ok {
			return "duplicate participant " + participant
		}
		seen[participant] = struct{}{}
	}
	return ""
}

// SystemEvent is the membership payload of a system message. Names are captured when
// the event happens and never re-resolved.
type SystemEvent struct {
	Action     SystemAction
	ActorID    string
	ActorName  string
	TargetID   string
	TargetName string
	I18nKey    string
}

// Message is one immutable entry in a conversation log.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	Text           string
	Type           MessageType
	CreatedAt      time.Time
	System         *SystemEvent
}

// ConversationSummary is a conversation-list entry.
type ConversationSummary struct {
	Conversation
	LastMessage *Message
	// Friend and PeerOnline describe the peer of a direct conversation.
	Friend     bool
	PeerOnline bool
}

// Sender identifies who sends a message. Name is the caller's locally known display
// name, used when the profile store cannot resolve one.
type Sender struct {
	UserID string
	Name   string
}
