package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"go.uber.org/zap"
)

// ListConversationsFor returns the active conversations of userID, most recently updated
// first, each with its latest message. Archived groups never appear.
func (s *Service) ListConversationsFor(ctx context.Context, userID string) ([]ConversationSummary, error) {
	summaries, _, err := s.loadSummaries(ctx, userID)
	return summaries, err
}

func (s *Service) loadSummaries(ctx context.Context, userID string) ([]ConversationSummary, []string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrMissingUserID
	}
	conversations, err := s.repo.ListActiveFor(ctx, userID)
	if err != nil {
		s.logError(opListConversation, "list_failed", err, zap.String("user_id", userID))
		return nil, nil, apperr.Unavailablef(opListConversation+".list_failed", err)
	}
	conversationIDs := make([]string, 0, len(conversations))
	for _, conversation := range conversations {
		conversationIDs = append(conversationIDs, conversation.ID)
	}
	latest, err := s.repo.LatestMessages(ctx, conversationIDs)
	if err != nil {
		s.logError(opListConversation, "preview_failed", err, zap.String("user_id", userID))
		return nil, nil, apperr.Unavailablef(opListConversation+".preview_failed", err)
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	topics := make([]string, 0, 2*len(conversations))
	for _, conversation := range conversations {
		summary := ConversationSummary{Conversation: conversation}
		if message, ok := latest[conversation.ID]; ok {
			message := message
			summary.LastMessage = &message
		}
		topics = append(topics, realtime.MessagesTopic(conversation.ID))
		if peerID, ok := conversation.Peer(userID); ok {
			summary.Friend = s.isFriend(ctx, userID, peerID)
			summary.PeerOnline = s.isOnline(ctx, peerID)
			topics = append(topics, realtime.PresenceTopic(peerID), realtime.FriendsTopic(userID))
		}
		summaries = append(summaries, summary)
	}
	return summaries, topics, nil
}

// isFriend and isOnline are decorations; failures render as false.
func (s *Service) isFriend(ctx context.Context, userID, peerID string) bool {
	if s.friends == nil {
		return false
	}
	friends, err := s.friends.AreFriends(ctx, userID, peerID)
	if err != nil {
		s.logError(opListConversation, "friend_lookup_failed", err, zap.String("user_id", userID), zap.String("peer_id", peerID))
		return false
	}
	return friends
}

func (s *Service) isOnline(ctx context.Context, userID string) bool {
	if s.presence == nil {
		return false
	}
	online, err := s.presence.IsOnline(ctx, userID)
	if err != nil {
		s.logError(opListConversation, "presence_lookup_failed", err, zap.String("user_id", userID))
		return false
	}
	return online
}

// WatchConversations emits the conversation list now and after every change. It follows
// the message topic of each active conversation only while that conversation is active.
func (s *Service) WatchConversations(ctx context.Context, userID string) (<-chan realtime.Snapshot[[]ConversationSummary], func(), error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrMissingUserID
	}
	if s.broker == nil {
		return nil, nil, ErrLiveUpdatesDisabled
	}
	stream, cancel := realtime.WatchDynamic(ctx, s.broker, []string{realtime.ConversationsTopic(userID)}, func(loadCtx context.Context) ([]ConversationSummary, []string, error) {
		return s.loadSummaries(loadCtx, userID)
	})
	return stream, cancel, nil
}

// WatchMessages emits the full ordered log now and after every change, for as long as
// viewerID stays a participant. Once the viewer leaves or the group is archived the watch
// emits ErrConversationNotFound and closes.
func (s *Service) WatchMessages(ctx context.Context, conversationID, viewerID string) (<-chan realtime.Snapshot[[]Message], func(), error) {
	conversationID = strings.TrimSpace(conversationID)
	viewerID = strings.TrimSpace(viewerID)
	if conversationID == "" {
		return nil, nil, ErrMissingConversationID
	}
	if viewerID == "" {
		return nil, nil, ErrMissingUserID
	}
	if s.broker == nil {
		return nil, nil, ErrLiveUpdatesDisabled
	}
	stream, cancel := realtime.Watch(ctx, s.broker, []string{realtime.MessagesTopic(conversationID)}, func(loadCtx context.Context) ([]Message, error) {
		conversation, err := s.loadConversation(loadCtx, opWatchMessages, conversationID)
		if errors.Is(err, ErrConversationNotFound) {
			return nil, realtime.Final(err)
		}
		if err != nil {
			return nil, err
		}
		if conversation.Archived || !conversation.HasParticipant(viewerID) {
			return nil, realtime.Final(ErrConversationNotFound)
		}
		return s.Messages(loadCtx, conversationID)
	})
	return stream, cancel, nil
}
