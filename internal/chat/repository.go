package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"gorm.io/gorm"
)

// ErrNotWritable is returned by AppendMessage when the conversation is missing, archived,
// or does not list the sender.
var ErrNotWritable = errors.New("chat: conversation not writable by sender")

// Repository persists conversations and their message logs. The engine is its only writer.
type Repository interface {
	FindDirect(ctx context.Context, firstUserID, secondUserID string) (Conversation, bool, error)
	CreateConversation(ctx context.Context, conversation Conversation, initial []Message) error
	GetConversation(ctx context.Context, conversationID string) (Conversation, bool, error)
	ListActiveFor(ctx context.Context, userID string) ([]Conversation, error)
	// AppendMessage inserts a user message and bumps the conversation's update time in one
	// transaction, returning the conversation it was written to.
	AppendMessage(ctx context.Context, message Message) (Conversation, error)
	// ApplyMembershipChange stores the new participant arrays, archived flag and update time
	// together with the narrating system message.
	ApplyMembershipChange(ctx context.Context, conversation Conversation, message Message) error
	// RenameParticipant rewrites the cached name of userID everywhere it appears and
	// returns the conversations it touched.
	RenameParticipant(ctx context.Context, userID, name string) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	LatestMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error)
}

// ConversationRecord is the row backing a conversation.
type ConversationRecord struct {
	ConversationID  string  `gorm:"column:conversation_id;primaryKey;size:64;not null"`
	Kind            string  `gorm:"column:kind;size:16;not null"`
	DirectKey       *string `gorm:"column:direct_key;size:400;uniqueIndex"`
	GroupName       string  `gorm:"column:group_name;size:200"`
	CreatedBy       string  `gorm:"column:created_by;size:190"`
	CreatedAtMillis int64   `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64   `gorm:"column:updated_at_ms;not null;index"`
	Archived        bool    `gorm:"column:archived;not null;default:false"`
}

func (ConversationRecord) TableName() string {
	return "conversations"
}

// ParticipantRecord stores one participant slot of a conversation.
type ParticipantRecord struct {
	ConversationID string `gorm:"column:conversation_id;primaryKey;size:64;not null"`
	Position       int    `gorm:"column:position;primaryKey;not null"`
	UserID         string `gorm:"column:user_id;size:190;not null;index"`
	DisplayName    string `gorm:"column:display_name;size:320;not null"`
}

func (ParticipantRecord) TableName() string {
	return "conversation_participants"
}

// MessageRecord is the row backing a message. System columns are empty for user messages.
type MessageRecord struct {
	MessageID       string `gorm:"column:message_id;primaryKey;size:64;not null"`
	ConversationID  string `gorm:"column:conversation_id;size:64;not null;index:idx_conversation_messages_order,priority:1"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_conversation_messages_order,priority:2"`
	SenderID        string `gorm:"column:sender_id;size:190;not null"`
	SenderName      string `gorm:"column:sender_name;size:320;not null"`
	Text            string `gorm:"column:text;type:text"`
	Type            string `gorm:"column:type;size:16;not null"`
	Action          string `gorm:"column:action;size:16"`
	ActorID         string `gorm:"column:actor_id;size:190"`
	ActorName       string `gorm:"column:actor_name;size:320"`
	TargetID        string `gorm:"column:target_id;size:190"`
	TargetName      string `gorm:"column:target_name;size:320"`
	I18nKey         string `gorm:"column:i18n_key;size:120"`
}

func (MessageRecord) TableName() string {
	return "conversation_messages"
}

// directKey addresses a direct conversation by its unordered participant pair.
func directKey(firstUserID, secondUserID string) string {
	pair := []string{firstUserID, secondUserID}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

func newConversationRecord(conversation Conversation) ConversationRecord {
	record := ConversationRecord{
		ConversationID:  conversation.ID,
		Kind:            string(conversation.Kind),
		GroupName:       conversation.GroupName,
		CreatedBy:       conversation.CreatedBy,
		CreatedAtMillis: conversation.CreatedAt.UnixMilli(),
		UpdatedAtMillis: conversation.UpdatedAt.UnixMilli(),
		Archived:        conversation.Archived,
	}
	if conversation.Kind == KindDirect && len(conversation.Participants) == 2 {
		key := directKey(conversation.Participants[0], conversation.Participants[1])
		record.DirectKey = &key
	}
	return record
}

func newParticipantRecords(conversation Conversation) []ParticipantRecord {
	records := make([]ParticipantRecord, 0, len(conversation.Participants))
	for index, userID := range conversation.Participants {
		records = append(records, ParticipantRecord{
			ConversationID: conversation.ID,
			Position:       index,
			UserID:         userID,
			DisplayName:    conversation.ParticipantNames[index],
		})
	}
	return records
}

func newMessageRecord(message Message) MessageRecord {
	record := MessageRecord{
		MessageID:       message.ID,
		ConversationID:  message.ConversationID,
		CreatedAtMillis: message.CreatedAt.UnixMilli(),
		SenderID:        message.SenderID,
		SenderName:      message.SenderName,
		Text:            message.Text,
		Type:            string(message.Type),
	}
	if message.System != nil {
		record.Action = string(message.System.Action)
		record.ActorID = message.System.ActorID
		record.ActorName = message.System.ActorName
		record.TargetID = message.System.TargetID
		record.TargetName = message.System.TargetName
		record.I18nKey = message.System.I18nKey
	}
	return record
}

func toConversation(record ConversationRecord, participants []ParticipantRecord) (Conversation, error) {
	sort.Slice(participants, func(i, j int) bool { return participants[i].Position < participants[j].Position })
	conversation := Conversation{
		ID:               record.ConversationID,
		Kind:             Kind(record.Kind),
		Participants:     make([]string, 0, len(participants)),
		ParticipantNames: make([]string, 0, len(participants)),
		GroupName:        record.GroupName,
		CreatedBy:        record.CreatedBy,
		CreatedAt:        time.UnixMilli(record.CreatedAtMillis).UTC(),
		UpdatedAt:        time.UnixMilli(record.UpdatedAtMillis).UTC(),
		Archived:         record.Archived,
	}
	for index, participant := range participants {
		if participant.Position != index {
			return Conversation{}, apperr.Malformed("chat.record.participant_gap", "conversation "+record.ConversationID+" has a gap in participant positions")
		}
		conversation.Participants = append(conversation.Participants, participant.UserID)
		conversation.ParticipantNames = append(conversation.ParticipantNames, participant.DisplayName)
	}
	if problem := conversation.checkInvariants(); problem != "" {
		return Conversation{}, apperr.Malformed("chat.record.invalid_conversation", record.ConversationID+": "+problem)
	}
	return conversation, nil
}

func toMessage(record MessageRecord) (Message, error) {
	if strings.TrimSpace(record.MessageID) == "" || strings.TrimSpace(record.ConversationID) == "" || strings.TrimSpace(record.SenderID) == "" {
		return Message{}, apperr.Malformed("chat.record.message_missing_field", "message row missing id, conversation or sender")
	}
	messageType := MessageType(record.Type)
	if !messageType.valid() {
		return Message{}, apperr.Malformed("chat.record.message_invalid_type", "message "+record.MessageID+" has type "+record.Type)
	}
	message := Message{
		ID:             record.MessageID,
		ConversationID: record.ConversationID,
		SenderID:       record.SenderID,
		SenderName:     record.SenderName,
		Text:           record.Text,
		Type:           messageType,
		CreatedAt:      time.UnixMilli(record.CreatedAtMillis).UTC(),
	}
	if messageType == MessageTypeSystem {
		action := SystemAction(record.Action)
		key, known := actionKeys[action]
		if !known || record.ActorID == "" {
			return Message{}, apperr.Malformed("chat.record.system_invalid_action", "system message "+record.MessageID+" has action "+record.Action)
		}
		if action == ActionAddMember && record.TargetID == "" {
			return Message{}, apperr.Malformed("chat.record.system_missing_target", "add_member message "+record.MessageID+" without target")
		}
		if record.I18nKey != "" {
			key = record.I18nKey
		}
		message.System = &SystemEvent{
			Action:     action,
			ActorID:    record.ActorID,
			ActorName:  record.ActorName,
			TargetID:   record.TargetID,
			TargetName: record.TargetName,
			I18nKey:    key,
		}
	}
	return message, nil
}

// GormRepository stores conversations in the relational database.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

func (r *GormRepository) FindDirect(ctx context.Context, firstUserID, secondUserID string) (Conversation, bool, error) {
	var record ConversationRecord
	err := r.db.WithContext(ctx).
		Where("direct_key = ? AND kind = ?", directKey(firstUserID, secondUserID), string(KindDirect)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	conversations, err := r.hydrate(r.db.WithContext(ctx), []ConversationRecord{record})
	if err != nil {
		return Conversation{}, false, err
	}
	return conversations[0], true, nil
}

func (r *GormRepository) CreateConversation(ctx context.Context, conversation Conversation, initial []Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := newConversationRecord(conversation)
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		participants := newParticipantRecords(conversation)
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		for _, message := range initial {
			messageRecord := newMessageRecord(message)
			if err := tx.Create(&messageRecord).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) GetConversation(ctx context.Context, conversationID string) (Conversation, bool, error) {
	var record ConversationRecord
	err := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	conversations, err := r.hydrate(r.db.WithContext(ctx), []ConversationRecord{record})
	if err != nil {
		return Conversation{}, false, err
	}
	return conversations[0], true, nil
}

// ListActiveFor returns the unarchived conversations of userID, most recently updated first.
func (r *GormRepository) ListActiveFor(ctx context.Context, userID string) ([]Conversation, error) {
	db := r.db.WithContext(ctx)
	memberships := db.Model(&ParticipantRecord{}).Select("conversation_id").Where("user_id = ?", userID)
	var records []ConversationRecord
	err := db.Where("conversation_id IN (?) AND archived = ?", memberships, false).
		Order("updated_at_ms DESC, conversation_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return r.hydrate(db, records)
}

func (r *GormRepository) AppendMessage(ctx context.Context, message Message) (Conversation, error) {
	var conversation Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record ConversationRecord
		err := tx.Where("conversation_id = ? AND archived = ?", message.ConversationID, false).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotWritable
		}
		if err != nil {
			return err
		}
		hydrated, err := r.hydrate(tx, []ConversationRecord{record})
		if err != nil {
			return err
		}
		conversation = hydrated[0]
		if !conversation.HasParticipant(message.SenderID) {
			return ErrNotWritable
		}
		messageRecord := newMessageRecord(message)
		if err := tx.Create(&messageRecord).Error; err != nil {
			return err
		}
		updatedAt := message.CreatedAt.UnixMilli()
		if err := tx.Model(&ConversationRecord{}).
			Where("conversation_id = ?", message.ConversationID).
			Update("updated_at_ms", updatedAt).Error; err != nil {
			return err
		}
		conversation.UpdatedAt = message.CreatedAt
		return nil
	})
	if err != nil {
		return Conversation{}, err
	}
	return conversation, nil
}

func (r *GormRepository) ApplyMembershipChange(ctx context.Context, conversation Conversation, message Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&ConversationRecord{}).
			Where("conversation_id = ?", conversation.ID).
			Updates(map[string]interface{}{
				"updated_at_ms": conversation.UpdatedAt.UnixMilli(),
				"archived":      conversation.Archived,
			}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversation.ID).Delete(&ParticipantRecord{}).Error; err != nil {
			return err
		}
		participants := newParticipantRecords(conversation)
		if len(participants) > 0 {
			if err := tx.Create(&participants).Error; err != nil {
				return err
			}
		}
		messageRecord := newMessageRecord(message)
		return tx.Create(&messageRecord).Error
	})
}

func (r *GormRepository) RenameParticipant(ctx context.Context, userID, name string) ([]Conversation, error) {
	var touched []Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conversationIDs []string
		if err := tx.Model(&ParticipantRecord{}).
			Where("user_id = ?", userID).
			Distinct().
			Pluck("conversation_id", &conversationIDs).Error; err != nil {
			return err
		}
		if len(conversationIDs) == 0 {
			return nil
		}
		if err := tx.Model(&ParticipantRecord{}).
			Where("user_id = ?", userID).
			Update("display_name", name).Error; err != nil {
			return err
		}
		var records []ConversationRecord
		if err := tx.Where("conversation_id IN ?", conversationIDs).Find(&records).Error; err != nil {
			return err
		}
		hydrated, err := r.hydrate(tx, records)
		if err != nil {
			return err
		}
		touched = hydrated
		return nil
	})
	return touched, err
}

// ListMessages returns the log in ascending creation time; ties fall back to the
// time-ordered message id.
func (r *GormRepository) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var records []MessageRecord
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at_ms ASC, message_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(records))
	for _, record := range records {
		message, err := toMessage(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func (r *GormRepository) LatestMessages(ctx context.Context, conversationIDs []string) (map[string]Message, error) {
	latest := make(map[string]Message, len(conversationIDs))
	db := r.db.WithContext(ctx)
	for _, conversationID := range conversationIDs {
		var record MessageRecord
		err := db.Where("conversation_id = ?", conversationID).
			Order("created_at_ms DESC, message_id DESC").
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		message, err := toMessage(record)
		if err != nil {
			return nil, err
		}
		latest[conversationID] = message
	}
	return latest, nil
}

// hydrate attaches participant slots to conversation rows, preserving row order.
func (r *GormRepository) hydrate(db *gorm.DB, records []ConversationRecord) ([]Conversation, error) {
	if len(records) == 0 {
		return []Conversation{}, nil
	}
	ids := make([]string, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ConversationID)
	}
	var participants []ParticipantRecord
	if err := db.Where("conversation_id IN ?", ids).Order("conversation_id ASC, position ASC").Find(&participants).Error; err != nil {
		return nil, err
	}
	byConversation := make(map[string][]ParticipantRecord, len(records))
	for _, participant := range participants {
		byConversation[participant.ConversationID] = append(byConversation[participant.ConversationID], participant)
	}
	conversations := make([]Conversation, 0, len(records))
	for _, record := range records {
		conversation, err := toConversation(record, byConversation[record.ConversationID])
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}
