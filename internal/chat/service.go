package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"go.uber.org/zap"
)

const (
	opServiceNew       = "chat.service.new"
	opGetOrCreate      = "chat.get_or_create_direct"
	opCreateGroup      = "chat.create_group"
	opSendMessage      = "chat.send_message"
	opAddMember        = "chat.add_member"
	opLeaveGroup       = "chat.leave_group"
	opGetConversation  = "chat.get_conversation"
	opListConversation = "chat.list_conversations"
	opMessages         = "chat.messages"
	opWatchMessages    = "chat.watch_messages"
	opPropagateName    = "chat.propagate_display_name"

	systemSenderName = "System"
)

var (
	errMissingRepository = errors.New("chat repository is required")
	errMissingDirectory  = errors.New("profile directory is required")
	errMissingBlocks     = errors.New("block checker is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	ErrMissingUserID         = apperr.New(apperr.KindInvalidInput, "chat.missing_user_id", "user id is required")
	ErrMissingConversationID = apperr.New(apperr.KindInvalidInput, "chat.missing_conversation_id", "conversation id is required")
	ErrEmptyMessage          = apperr.New(apperr.KindInvalidInput, "chat.send_message.empty_text", "message text is required")
	ErrEmptyGroupName        = apperr.New(apperr.KindInvalidInput, "chat.create_group.empty_name", "group name is required")
	ErrTooFewMembers         = apperr.New(apperr.KindInvalidInput, "chat.create_group.too_few_members", "a group needs at least two members")
	ErrSelfConversation      = apperr.New(apperr.KindInvalidOperation, "chat.get_or_create_direct.self", "you cannot start a conversation with yourself")
	ErrConversationNotFound  = apperr.New(apperr.KindNotFound, "chat.conversation_not_found", "conversation not found")
	ErrNotGroup              = apperr.New(apperr.KindInvalidOperation, "chat.not_group", "this action is only available in group conversations")
	ErrArchived              = apperr.New(apperr.KindInvalidOperation, "chat.archived", "this group has been archived")
	ErrAlreadyMember         = apperr.New(apperr.KindConflict, "chat.add_member.already_member", "user is already a member of this group")
	ErrUserNotFound          = apperr.New(apperr.KindNotFound, "chat.add_member.user_not_found", "user not found")
	ErrActorBlockedTarget    = apperr.New(apperr.KindForbidden, "chat.add_member.actor_blocked_target", "you have blocked this user")
	ErrTargetBlockedActor    = apperr.New(apperr.KindForbidden, "chat.add_member.target_blocked_actor", "this user has blocked you")
	ErrNotMember             = apperr.New(apperr.KindNotFound, "chat.not_member", "you are not a member of this conversation")
	ErrLiveUpdatesDisabled   = apperr.New(apperr.KindUnavailable, "chat.watch.missing_broker", "live updates are not configured")
)

// IDProvider issues conversation and message identifiers. Identifiers must sort in
// issue order so that messages sharing a millisecond keep their submission order.
type IDProvider interface {
	NewID() (string, error)
}

// Directory is the slice of the profile store the engine reads.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (profiles.Profile, bool, error)
	Lookup(ctx context.Context, userIDs []string) (map[string]profiles.Profile, error)
}

// BlockChecker answers point-in-time block queries.
type BlockChecker interface {
	IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error)
}

// FriendChecker decorates direct conversations with the friend badge.
type FriendChecker interface {
	AreFriends(ctx context.Context, userID, peerID string) (bool, error)
}

// PresenceReader decorates direct conversations with the peer's online flag.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type ServiceConfig struct {
	Repository Repository
	Directory  Directory
	Blocks     BlockChecker
	Friends    FriendChecker
	Presence   PresenceReader
	Broker     realtime.Broker
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the conversation engine.
type Service struct {
	repo       Repository
	directory  Directory
	blocks     BlockChecker
	friends    FriendChecker
	presence   PresenceReader
	broker     realtime.Broker
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_repository", "", errMissingRepository)
	}
	if cfg.Directory == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_directory", "", errMissingDirectory)
	}
	if cfg.Blocks == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_blocks", "", errMissingBlocks)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_id_provider", "", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		repo:       cfg.Repository,
		directory:  cfg.Directory,
		blocks:     cfg.Blocks,
		friends:    cfg.Friends,
		presence:   cfg.Presence,
		broker:     cfg.Broker,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// GetOrCreateDirect returns the direct conversation between the two users, creating it
// with firstUserID at index 0 when none exists.
func (s *Service) GetOrCreateDirect(ctx context.Context, firstUserID, secondUserID string) (Conversation, error) {
	firstUserID = strings.TrimSpace(firstUserID)
	secondUserID = strings.TrimSpace(secondUserID)
	if firstUserID == "" || secondUserID == "" {
		return Conversation{}, ErrMissingUserID
	}
	if firstUserID == secondUserID {
		return Conversation{}, ErrSelfConversation
	}
	existing, found, err := s.repo.FindDirect(ctx, firstUserID, secondUserID)
	if err != nil {
		s.logError(opGetOrCreate, "lookup_failed", err, zap.String("user_id", firstUserID), zap.String("peer_id", secondUserID))
		return Conversation{}, apperr.Unavailablef(opGetOrCreate+".lookup_failed", err)
	}
	if found {
		return existing, nil
	}

	participants := []string{firstUserID, secondUserID}
	names, err := s.resolveNames(ctx, opGetOrCreate, participants)
	if err != nil {
		return Conversation{}, err
	}
	conversationID, err := s.newID(opGetOrCreate)
	if err != nil {
		return Conversation{}, err
	}
	now := s.now()
	conversation := Conversation{
		ID:               conversationID,
		Kind:             KindDirect,
		Participants:     participants,
		ParticipantNames: names,
		CreatedBy:        firstUserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.CreateConversation(ctx, conversation, nil); err != nil {
		// A concurrent creator may have won the unique pair key.
		if winner, found, findErr := s.repo.FindDirect(ctx, firstUserID, secondUserID); findErr == nil && found {
			return winner, nil
		}
		s.logError(opGetOrCreate, "insert_failed", err, zap.String("conversation_id", conversationID))
		return Conversation{}, apperr.Unavailablef(opGetOrCreate+".insert_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventConversationsChanged, now,
		realtime.ConversationsTopic(firstUserID), realtime.ConversationsTopic(secondUserID))
	return conversation, nil
}

// CreateGroup creates a named group of the creator and memberIDs. Member names are a
// snapshot taken now; the creator's join is recorded as the first message.
func (s *Service) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name string) (Conversation, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return Conversation{}, ErrMissingUserID
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Conversation{}, ErrEmptyGroupName
	}
	participants := dedupeMembers(creatorID, memberIDs)
	if len(participants) < 2 {
		return Conversation{}, ErrTooFewMembers
	}

	names, err := s.resolveNames(ctx, opCreateGroup, participants)
	if err != nil {
		return Conversation{}, err
	}
	conversationID, err := s.newID(opCreateGroup)
	if err != nil {
		return Conversation{}, err
	}
	messageID, err := s.newID(opCreateGroup)
	if err != nil {
		return Conversation{}, err
	}
	now := s.now()
	conversation := Conversation{
		ID:               conversationID,
		Kind:             KindGroup,
		Participants:     participants,
		ParticipantNames: names,
		GroupName:        name,
		CreatedBy:        creatorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	joined := systemMessage(messageID, conversationID, now, SystemEvent{
		Action:    ActionJoin,
		ActorID:   creatorID,
		ActorName: names[0],
	})
	if err := s.repo.CreateConversation(ctx, conversation, []Message{joined}); err != nil {
		s.logError(opCreateGroup, "insert_failed", err, zap.String("conversation_id", conversationID))
		return Conversation{}, apperr.Unavailablef(opCreateGroup+".insert_failed", err)
	}
	s.notifyMembership(now, conversationID, participants)
	return conversation, nil
}

// SendMessage appends a user message with surrounding whitespace removed and bumps the
// conversation's update time.
func (s *Service) SendMessage(ctx context.Context, conversationID string, sender Sender, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Message{}, ErrMissingConversationID
	}
	senderID := strings.TrimSpace(sender.UserID)
	if senderID == "" {
		return Message{}, ErrMissingUserID
	}

	senderName := s.senderName(ctx, senderID, sender.Name)
	messageID, err := s.newID(opSendMessage)
	if err != nil {
		return Message{}, err
	}
	message := Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Text:           text,
		Type:           MessageTypeUser,
		CreatedAt:      s.now(),
	}
	if _, err := s.repo.AppendMessage(ctx, message); err != nil {
		if errors.Is(err, ErrNotWritable) {
			return Message{}, ErrConversationNotFound
		}
		s.logError(opSendMessage, "insert_failed", err, zap.String("conversation_id", conversationID), zap.String("user_id", senderID))
		return Message{}, apperr.Unavailablef(opSendMessage+".insert_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventMessagesChanged, message.CreatedAt, realtime.MessagesTopic(conversationID))
	return message, nil
}

// senderName prefers the profile name, then the caller's local identity.
func (s *Service) senderName(ctx context.Context, senderID, localName string) string {
	profile, found, err := s.directory.GetProfile(ctx, senderID)
	if err != nil {
		s.logError(opSendMessage, "sender_lookup_failed", err, zap.String("user_id", senderID))
	}
	if err == nil && found && strings.TrimSpace(profile.DisplayName) != "" {
		return profile.DisplayName
	}
	if localName = strings.TrimSpace(localName); localName != "" {
		return localName
	}
	return profiles.FallbackName
}

// AddMember adds targetID to a group on behalf of actorID. Every check runs before the
// single write that appends the member and records the add_member message.
func (s *Service) AddMember(ctx context.Context, conversationID, targetID, actorID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, ErrMissingConversationID
	}
	targetID = strings.TrimSpace(targetID)
	actorID = strings.TrimSpace(actorID)
	if targetID == "" || actorID == "" {
		return Conversation{}, ErrMissingUserID
	}

	conversation, err := s.loadConversation(ctx, opAddMember, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.Kind != KindGroup {
		return Conversation{}, ErrNotGroup
	}
	if conversation.Archived {
		return Conversation{}, ErrArchived
	}
	if conversation.HasParticipant(targetID) {
		return Conversation{}, ErrAlreadyMember
	}
	target, found, err := s.directory.GetProfile(ctx, targetID)
	if err != nil {
		s.logError(opAddMember, "target_lookup_failed", err, zap.String("user_id", targetID))
		return Conversation{}, apperr.Unavailablef(opAddMember+".target_lookup_failed", err)
	}
	if !found {
		return Conversation{}, ErrUserNotFound
	}
	if s.blocked(ctx, actorID, targetID) {
		return Conversation{}, ErrActorBlockedTarget
	}
	if s.blocked(ctx, targetID, actorID) {
		return Conversation{}, ErrTargetBlockedActor
	}

	actorName, known := conversation.NameOf(actorID)
	if !known {
		actorName = s.displayName(ctx, opAddMember, actorID)
	}
	targetName := target.DisplayName
	if strings.TrimSpace(targetName) == "" {
		targetName = profiles.FallbackName
	}
	messageID, err := s.newID(opAddMember)
	if err != nil {
		return Conversation{}, err
	}
	now := s.now()
	updated := conversation.clone()
	updated.Participants = append(updated.Participants, targetID)
	updated.ParticipantNames = append(updated.ParticipantNames, targetName)
	updated.UpdatedAt = now
	added := systemMessage(messageID, conversationID, now, SystemEvent{
		Action:     ActionAddMember,
		ActorID:    actorID,
		ActorName:  actorName,
		TargetID:   targetID,
		TargetName: targetName,
	})
	if err := s.repo.ApplyMembershipChange(ctx, updated, added); err != nil {
		s.logError(opAddMember, "update_failed", err, zap.String("conversation_id", conversationID), zap.String("user_id", targetID))
		return Conversation{}, apperr.Unavailablef(opAddMember+".update_failed", err)
	}
	s.notifyMembership(now, conversationID, updated.Participants)
	return updated, nil
}

// blocked treats a failed lookup as no block so that an outage of the block registry
// does not stop group management.
func (s *Service) blocked(ctx context.Context, blockerID, blockedID string) bool {
	isBlocked, err := s.blocks.IsBlocked(ctx, blockerID, blockedID)
	if err != nil {
		s.logError(opAddMember, "block_lookup_failed", err, zap.String("blocker_id", blockerID), zap.String("blocked_id", blockedID))
		return false
	}
	return isBlocked
}

// LeaveGroup removes userID from a group. The last member leaving archives the group.
func (s *Service) LeaveGroup(ctx context.Context, conversationID, userID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, ErrMissingConversationID
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Conversation{}, ErrMissingUserID
	}

	conversation, err := s.loadConversation(ctx, opLeaveGroup, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.Kind != KindGroup {
		return Conversation{}, ErrNotGroup
	}
	index := conversation.IndexOf(userID)
	if index < 0 {
		return Conversation{}, ErrNotMember
	}
	leaverName := conversation.ParticipantNames[index]

	messageID, err := s.newID(opLeaveGroup)
	if err != nil {
		return Conversation{}, err
	}
	now := s.now()
	updated := conversation.clone()
	updated.Participants = append(updated.Participants[:index], updated.Participants[index+1:]...)
	updated.ParticipantNames = append(updated.ParticipantNames[:index], updated.ParticipantNames[index+1:]...)
	updated.UpdatedAt = now
	if len(updated.Participants) == 0 {
		updated.Archived = true
		updated.Participants = []string{}
		updated.ParticipantNames = []string{}
	}
	left := systemMessage(messageID, conversationID, now, SystemEvent{
		Action:    ActionLeave,
		ActorID:   userID,
		ActorName: leaverName,
	})
	if err := s.repo.ApplyMembershipChange(ctx, updated, left); err != nil {
		s.logError(opLeaveGroup, "update_failed", err, zap.String("conversation_id", conversationID), zap.String("user_id", userID))
		return Conversation{}, apperr.Unavailablef(opLeaveGroup+".update_failed", err)
	}
	s.notifyMembership(now, conversationID, conversation.Participants)
	return updated, nil
}

// GetConversation returns the conversation in any state.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, ErrMissingConversationID
	}
	return s.loadConversation(ctx, opGetConversation, conversationID)
}

// Messages returns the full log in ascending creation time.
func (s *Service) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrMissingConversationID
	}
	messages, err := s.repo.ListMessages(ctx, conversationID)
	if err != nil {
		s.logError(opMessages, "list_failed", err, zap.String("conversation_id", conversationID))
		return nil, apperr.Unavailablef(opMessages+".list_failed", err)
	}
	return messages, nil
}

// PropagateDisplayName copies the current profile name of userID into every
// conversation that lists it. An absent profile is a no-op.
func (s *Service) PropagateDisplayName(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	profile, found, err := s.directory.GetProfile(ctx, userID)
	if err != nil {
		s.logError(opPropagateName, "profile_lookup_failed", err, zap.String("user_id", userID))
		return apperr.Unavailablef(opPropagateName+".profile_lookup_failed", err)
	}
	if !found {
		return nil
	}
	touched, err := s.repo.RenameParticipant(ctx, userID, profile.DisplayName)
	if err != nil {
		s.logError(opPropagateName, "update_failed", err, zap.String("user_id", userID))
		return apperr.Unavailablef(opPropagateName+".update_failed", err)
	}
	now := s.now()
	for _, conversation := range touched {
		s.notifyMembership(now, conversation.ID, conversation.Participants)
	}
	return nil
}

func (s *Service) loadConversation(ctx context.Context, operation, conversationID string) (Conversation, error) {
	conversation, found, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		s.logError(operation, "lookup_failed", err, zap.String("conversation_id", conversationID))
		return Conversation{}, apperr.Unavailablef(operation+".lookup_failed", err)
	}
	if !found {
		return Conversation{}, ErrConversationNotFound
	}
	return conversation, nil
}

// resolveNames returns the current display names of userIDs, index-aligned, with the
// fallback for users without a profile.
func (s *Service) resolveNames(ctx context.Context, operation string, userIDs []string) ([]string, error) {
	known, err := s.directory.Lookup(ctx, userIDs)
	if err != nil {
		s.logError(operation, "profile_lookup_failed", err, zap.Int("user_count", len(userIDs)))
		return nil, apperr.Unavailablef(operation+".profile_lookup_failed", err)
	}
	names := make([]string, len(userIDs))
	for index, userID := range userIDs {
		names[index] = profiles.FallbackName
		if profile, ok := known[userID]; ok && strings.TrimSpace(profile.DisplayName) != "" {
			names[index] = profile.DisplayName
		}
	}
	return names, nil
}

func (s *Service) displayName(ctx context.Context, operation, userID string) string {
	profile, found, err := s.directory.GetProfile(ctx, userID)
	if err != nil {
		s.logError(operation, "profile_lookup_failed", err, zap.String("user_id", userID))
		return profiles.FallbackName
	}
	if !found || strings.TrimSpace(profile.DisplayName) == "" {
		return profiles.FallbackName
	}
	return profile.DisplayName
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", apperr.Unavailablef(operation+".id_generation_failed", err)
	}
	return id, nil
}

// now is truncated to the stored precision so returned values equal reloaded ones.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Millisecond)
}

func (s *Service) notifyMembership(now time.Time, conversationID string, userIDs []string) {
	topics := make([]string, 0, len(userIDs)+1)
	for _, userID := range userIDs {
		topics = append(topics, realtime.ConversationsTopic(userID))
	}
	topics = append(topics, realtime.MessagesTopic(conversationID))
	realtime.Notify(s.broker, realtime.EventConversationsChanged, now, topics...)
}

func systemMessage(messageID, conversationID string, at time.Time, event SystemEvent) Message {
	event.I18nKey = actionKeys[event.Action]
	return Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       SystemSenderID,
		SenderName:     systemSenderName,
		Type:           MessageTypeSystem,
		CreatedAt:      at,
		System:         &event,
	}
}

// dedupeMembers returns creator followed by the distinct non-blank memberIDs in order.
func dedupeMembers(creatorID string, memberIDs []string) []string {
	seen := map[string]struct{}{creatorID: {}}
	members := []string{creatorID}
	for _, memberID := range memberIDs {
		memberID = strings.TrimSpace(memberID)
		if memberID == "" {
			continue
		}
		if _, ok := seen[memberID]; ok {
			continue
		}
		seen[memberID] = struct{}{}
		members = append(members, memberID)
	}
	return members
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("conversation engine failure", attrs...)
}
