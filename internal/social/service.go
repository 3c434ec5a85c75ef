package social

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/presence"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"go.uber.org/zap"
)

const (
	opServiceNew      = "social.service.new"
	opSearch          = "social.search"
	opSendRequest     = "social.send_request"
	opAcceptRequest   = "social.accept_request"
	opRejectRequest   = "social.reject_request"
	opValidateRequest = "social.validate_request"
	opGetRequest      = "social.get_request"
	opRemoveFriend    = "social.remove_friend"
	opAreFriends      = "social.are_friends"
	opFriends         = "social.friends"
	opPendingRequests = "social.pending_requests"
)

var (
	errMissingRepository = errors.New("social repository is required")
	errMissingDirectory  = errors.New("profile directory is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	ErrMissingUserID       = apperr.New(apperr.KindInvalidInput, "social.missing_user_id", "user id is required")
	ErrMissingRequestID    = apperr.New(apperr.KindInvalidInput, "social.missing_request_id", "request id is required")
	ErrSelfRequest         = apperr.New(apperr.KindInvalidOperation, "social.send_request.self", "you cannot send a friend request to yourself")
	ErrDuplicateRequest    = apperr.New(apperr.KindConflict, "social.send_request.duplicate", "friend request already sent")
	ErrRequestNotFound     = apperr.New(apperr.KindNotFound, "social.request_not_found", "friend request not found")
	ErrLiveUpdatesDisabled = apperr.New(apperr.KindUnavailable, "social.watch.missing_broker", "live updates are not configured")
)

// IDProvider issues request identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// Directory is the slice of the profile store the social graph reads.
type Directory interface {
	SearchByEmail(ctx context.Context, email, excludeUserID string) ([]profiles.Profile, error)
	Lookup(ctx context.Context, userIDs []string) (map[string]profiles.Profile, error)
}

// PresenceReader reports presence for friend lists.
type PresenceReader interface {
	Statuses(ctx context.Context, userIDs []string) (map[string]presence.Status, error)
}

// Friend is a friend-list entry enriched with profile and presence.
type Friend struct {
	UserID     string
	Name       string
	Email      string
	Online     bool
	LastActive time.Time
	Since      time.Time
}

// PendingRequest is an incoming request enriched with the sender's profile.
type PendingRequest struct {
	FriendRequest
	FromName  string
	FromEmail string
}

type ServiceConfig struct {
	Repository Repository
	Directory  Directory
	Presence   PresenceReader
	Broker     realtime.Broker
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the social graph: friend requests and symmetric friend edges.
type Service struct {
	repo       Repository
	directory  Directory
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
		presence:   cfg.Presence,
		broker:     cfg.Broker,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Search finds users by exact email, never returning the caller.
func (s *Service) Search(ctx context.Context, email, callerID string) ([]profiles.Profile, error) {
	callerID = strings.TrimSpace(callerID)
	if callerID == "" {
		return nil, ErrMissingUserID
	}
	matches, err := s.directory.SearchByEmail(ctx, email, callerID)
	if err != nil {
		s.logError(opSearch, "directory_failed", err, zap.String("user_id", callerID))
		return nil, err
	}
	return matches, nil
}

// SendRequest creates a pending request and returns its id. A previously rejected
// request for the same pair does not prevent a new one.
func (s *Service) SendRequest(ctx context.Context, fromUserID, toUserID string) (string, error) {
	fromUserID, toUserID, err := normalizePair(fromUserID, toUserID)
	if err != nil {
		return "", err
	}
	if fromUserID == toUserID {
		return "", ErrSelfRequest
	}
	_, exists, err := s.repo.FindPendingRequest(ctx, fromUserID, toUserID)
	if err != nil {
		s.logError(opSendRequest, "lookup_failed", err, zap.String("from_user_id", fromUserID), zap.String("to_user_id", toUserID))
		return "", apperr.Unavailablef(opSendRequest+".lookup_failed", err)
	}
	if exists {
		return "", ErrDuplicateRequest
	}
	requestID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSendRequest, "id_generation_failed", err)
		return "", apperr.Unavailablef(opSendRequest+".id_generation_failed", err)
	}
	now := s.clock().UTC()
	request := FriendRequest{
		ID:         requestID,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     RequestStatusPending,
		CreatedAt:  now,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		s.logError(opSendRequest, "insert_failed", err, zap.String("request_id", requestID))
		return "", apperr.Unavailablef(opSendRequest+".insert_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventRequestsChanged, now, realtime.RequestsTopic(toUserID))
	return requestID, nil
}

// AcceptRequest writes both friend edges and then deletes the request. It does not check
// that the request is still pending; callers validate freshness first. If the delete fails
// the edges stay in place and the request lingers.
func (s *Service) AcceptRequest(ctx context.Context, requestID, fromUserID, toUserID string) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ErrMissingRequestID
	}
	fromUserID, toUserID, err := normalizePair(fromUserID, toUserID)
	if err != nil {
		return err
	}
	if fromUserID == toUserID {
		return apperr.New(apperr.KindInvalidOperation, opAcceptRequest+".self", "you cannot befriend yourself")
	}
	now := s.clock().UTC()
	err = s.repo.CreateEdgePair(ctx,
		FriendEdge{OwnerID: toUserID, PeerID: fromUserID, CreatedAt: now},
		FriendEdge{OwnerID: fromUserID, PeerID: toUserID, CreatedAt: now},
	)
	if err != nil {
		s.logError(opAcceptRequest, "edge_insert_failed", err, zap.String("request_id", requestID))
		return apperr.Unavailablef(opAcceptRequest+".edge_insert_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventFriendsChanged, now, realtime.FriendsTopic(fromUserID), realtime.FriendsTopic(toUserID))

	if err := s.repo.DeleteRequest(ctx, requestID); err != nil {
		s.logError(opAcceptRequest, "request_delete_failed", err, zap.String("request_id", requestID))
		return apperr.Unavailablef(opAcceptRequest+".request_delete_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventRequestsChanged, now, realtime.RequestsTopic(toUserID))
	return nil
}

// RejectRequest marks the request rejected and keeps the record.
func (s *Service) RejectRequest(ctx context.Context, requestID string) error {
	request, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateRequestStatus(ctx, request.ID, RequestStatusRejected); err != nil {
		s.logError(opRejectRequest, "update_failed", err, zap.String("request_id", request.ID))
		return apperr.Unavailablef(opRejectRequest+".update_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventRequestsChanged, s.clock(), realtime.RequestsTopic(request.ToUserID))
	return nil
}

// GetRequest returns the request in any status.
func (s *Service) GetRequest(ctx context.Context, requestID string) (FriendRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return FriendRequest{}, ErrMissingRequestID
	}
	request, found, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		s.logError(opGetRequest, "lookup_failed", err, zap.String("request_id", requestID))
		return FriendRequest{}, apperr.Unavailablef(opGetRequest+".lookup_failed", err)
	}
	if !found {
		return FriendRequest{}, ErrRequestNotFound
	}
	return request, nil
}

// ValidateFriendRequest re-reads the request and reports whether it still exists and is pending.
func (s *Service) ValidateFriendRequest(ctx context.Context, requestID string) (bool, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return false, ErrMissingRequestID
	}
	request, found, err := s.repo.GetRequest(ctx, requestID)
	if err != nil {
		s.logError(opValidateRequest, "lookup_failed", err, zap.String("request_id", requestID))
		return false, apperr.Unavailablef(opValidateRequest+".lookup_failed", err)
	}
	return found && request.Status == RequestStatusPending, nil
}

// RemoveFriend deletes both halves of the friendship; a missing half is not an error.
func (s *Service) RemoveFriend(ctx context.Context, firstUserID, secondUserID string) error {
	firstUserID, secondUserID, err := normalizePair(firstUserID, secondUserID)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteEdgePair(ctx, firstUserID, secondUserID); err != nil {
		s.logError(opRemoveFriend, "delete_failed", err, zap.String("user_id", firstUserID), zap.String("peer_id", secondUserID))
		return apperr.Unavailablef(opRemoveFriend+".delete_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventFriendsChanged, s.clock(), realtime.FriendsTopic(firstUserID), realtime.FriendsTopic(secondUserID))
	return nil
}

// AreFriends reports whether userID lists peerID as a friend.
func (s *Service) AreFriends(ctx context.Context, userID, peerID string) (bool, error) {
	userID, peerID, err := normalizePair(userID, peerID)
	if err != nil {
		return false, err
	}
	exists, err := s.repo.EdgeExists(ctx, userID, peerID)
	if err != nil {
		s.logError(opAreFriends, "lookup_failed", err, zap.String("user_id", userID), zap.String("peer_id", peerID))
		return false, apperr.Unavailablef(opAreFriends+".lookup_failed", err)
	}
	return exists, nil
}

// Friends lists the friends of userID, enriched with profile and presence, ordered by name.
func (s *Service) Friends(ctx context.Context, userID string) ([]Friend, error) {
	friends, _, err := s.loadFriends(ctx, userID)
	return friends, err
}

func (s *Service) loadFriends(ctx context.Context, userID string) ([]Friend, []string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrMissingUserID
	}
	edges, err := s.repo.ListEdges(ctx, userID)
	if err != nil {
		s.logError(opFriends, "list_failed", err, zap.String("user_id", userID))
		return nil, nil, apperr.Unavailablef(opFriends+".list_failed", err)
	}
	peerIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		peerIDs = append(peerIDs, edge.PeerID)
	}
	known, err := s.directory.Lookup(ctx, peerIDs)
	if err != nil {
		s.logError(opFriends, "profile_lookup_failed", err, zap.String("user_id", userID))
		return nil, nil, err
	}
	statuses := s.statuses(ctx, peerIDs)

	friends := make([]Friend, 0, len(edges))
	presenceTopics := make([]string, 0, len(edges))
	for _, edge := range edges {
		friend := Friend{UserID: edge.PeerID, Name: profiles.FallbackName, Since: edge.CreatedAt}
		if profile, ok := known[edge.PeerID]; ok {
			friend.Name = profile.DisplayName
			friend.Email = profile.Email
		}
		if status, ok := statuses[edge.PeerID]; ok {
			friend.Online = status.Online
			friend.LastActive = status.LastActive
		}
		friends = append(friends, friend)
		presenceTopics = append(presenceTopics, realtime.PresenceTopic(edge.PeerID))
	}
	sort.SliceStable(friends, func(i, j int) bool {
		left, right := strings.ToLower(friends[i].Name), strings.ToLower(friends[j].Name)
		if left == right {
			return friends[i].UserID < friends[j].UserID
		}
		return left < right
	})
	return friends, presenceTopics, nil
}

// statuses is opportunistic: a presence failure shows friends as offline.
func (s *Service) statuses(ctx context.Context, userIDs []string) map[string]presence.Status {
	if s.presence == nil || len(userIDs) == 0 {
		return nil
	}
	statuses, err := s.presence.Statuses(ctx, userIDs)
	if err != nil {
		s.logError(opFriends, "presence_lookup_failed", err, zap.Int("user_count", len(userIDs)))
		return nil
	}
	return statuses
}

// PendingRequests lists incoming pending requests, silently dropping any that fail
// re-validation because they were accepted or rejected concurrently.
func (s *Service) PendingRequests(ctx context.Context, userID string) ([]PendingRequest, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrMissingUserID
	}
	requests, err := s.repo.ListPendingRequestsTo(ctx, userID)
	if err != nil {
		s.logError(opPendingRequests, "list_failed", err, zap.String("user_id", userID))
		return nil, apperr.Unavailablef(opPendingRequests+".list_failed", err)
	}
	fresh := make([]FriendRequest, 0, len(requests))
	senderIDs := make([]string, 0, len(requests))
	for _, request := range requests {
		actionable, err := s.ValidateFriendRequest(ctx, request.ID)
		if err != nil || !actionable {
			continue
		}
		fresh = append(fresh, request)
		senderIDs = append(senderIDs, request.FromUserID)
	}
	senders, err := s.directory.Lookup(ctx, senderIDs)
	if err != nil {
		s.logError(opPendingRequests, "profile_lookup_failed", err, zap.String("user_id", userID))
		return nil, err
	}
	pending := make([]PendingRequest, 0, len(fresh))
	for _, request := range fresh {
		view := PendingRequest{FriendRequest: request, FromName: profiles.FallbackName}
		if sender, ok := senders[request.FromUserID]; ok {
			view.FromName = sender.DisplayName
			view.FromEmail = sender.Email
		}
		pending = append(pending, view)
	}
	return pending, nil
}

// WatchFriends emits the full friend list now and whenever it, or a friend's presence, changes.
func (s *Service) WatchFriends(ctx context.Context, userID string) (<-chan realtime.Snapshot[[]Friend], func(), error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrMissingUserID
	}
	if s.broker == nil {
		return nil, nil, ErrLiveUpdatesDisabled
	}
	stream, cancel := realtime.WatchDynamic(ctx, s.broker, []string{realtime.FriendsTopic(userID)}, func(loadCtx context.Context) ([]Friend, []string, error) {
		return s.loadFriends(loadCtx, userID)
	})
	return stream, cancel, nil
}

// WatchPendingRequests emits the full set of actionable incoming requests on every change.
func (s *Service) WatchPendingRequests(ctx context.Context, userID string) (<-chan realtime.Snapshot[[]PendingRequest], func(), error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, ErrMissingUserID
	}
	if s.broker == nil {
		return nil, nil, ErrLiveUpdatesDisabled
	}
	stream, cancel := realtime.Watch(ctx, s.broker, []string{realtime.RequestsTopic(userID)}, func(loadCtx context.Context) ([]PendingRequest, error) {
		return s.PendingRequests(loadCtx, userID)
	})
	return stream, cancel, nil
}

func normalizePair(first, second string) (string, string, error) {
	first = strings.TrimSpace(first)
	second = strings.TrimSpace(second)
	if first == "" || second == "" {
		return "", "", ErrMissingUserID
	}
	return first, second, nil
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
	s.logger.Error("social graph failure", attrs...)
}
