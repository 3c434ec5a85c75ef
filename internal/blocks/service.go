package blocks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"go.uber.org/zap"
)

const (
	opServiceNew  = "blocks.service.new"
	opBlock       = "blocks.block"
	opUnblock     = "blocks.unblock"
	opIsBlocked   = "blocks.is_blocked"
	opBlockedSet  = "blocks.blocked_set"
	opWatchBlocks = "blocks.watch_blocked_set"
)

var (
	errMissingRepository = errors.New("block repository is required")
	noOpLogger           = zap.NewNop()

	ErrMissingUserID = apperr.New(apperr.KindInvalidInput, "blocks.missing_user_id", "user id is required")
	ErrSelfBlock     = apperr.New(apperr.KindInvalidOperation, "blocks.block.self", "you cannot block yourself")
)

type ServiceConfig struct {
	Repository Repository
	Broker     realtime.Broker
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service is the block registry. Blocking never removes friend edges or group memberships.
type Service struct {
	repo   Repository
	broker realtime.Broker
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_repository", "", errMissingRepository)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{repo: cfg.Repository, broker: cfg.Broker, clock: clock, logger: logger}, nil
}

func (s *Service) Block(ctx context.Context, blockerID, blockedID string) error {
	blockerID, blockedID, err := normalizePair(blockerID, blockedID)
	if err != nil {
		return err
	}
	if blockerID == blockedID {
		return ErrSelfBlock
	}
	now := s.clock().UTC()
	if err := s.repo.Upsert(ctx, Block{BlockerID: blockerID, BlockedID: blockedID, CreatedAt: now}); err != nil {
		s.logError(opBlock, "upsert_failed", err, zap.String("blocker_id", blockerID), zap.String("blocked_id", blockedID))
		return apperr.Unavailablef(opBlock+".upsert_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventBlocksChanged, now, realtime.BlocksTopic(blockerID))
	return nil
}

// Unblock removes the block; an absent block is not an error.
func (s *Service) Unblock(ctx context.Context, blockerID, blockedID string) error {
	blockerID, blockedID, err := normalizePair(blockerID, blockedID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, blockerID, blockedID); err != nil {
		s.logError(opUnblock, "delete_failed", err, zap.String("blocker_id", blockerID), zap.String("blocked_id", blockedID))
		return apperr.Unavailablef(opUnblock+".delete_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventBlocksChanged, s.clock(), realtime.BlocksTopic(blockerID))
	return nil
}

func (s *Service) IsBlocked(ctx context.Context, blockerID, blockedID string) (bool, error) {
	blockerID, blockedID, err := normalizePair(blockerID, blockedID)
	if err != nil {
		return false, err
	}
	blocked, err := s.repo.Exists(ctx, blockerID, blockedID)
	if err != nil {
		s.logError(opIsBlocked, "lookup_failed", err, zap.String("blocker_id", blockerID), zap.String("blocked_id", blockedID))
		return false, apperr.Unavailablef(opIsBlocked+".lookup_failed", err)
	}
	return blocked, nil
}

// BlockedSet lists the users blockerID has blocked, oldest block first.
func (s *Service) BlockedSet(ctx context.Context, blockerID string) ([]Block, error) {
	blockerID = strings.TrimSpace(blockerID)
	if blockerID == "" {
		return nil, ErrMissingUserID
	}
	blocks, err := s.repo.ListByBlocker(ctx, blockerID)
	if err != nil {
		s.logError(opBlockedSet, "list_failed", err, zap.String("blocker_id", blockerID))
		if errors.Is(err, apperr.ErrMalformedRecord) {
			return nil, err
		}
		return nil, apperr.Unavailablef(opBlockedSet+".list_failed", err)
	}
	return blocks, nil
}

// WatchBlockedSet emits the full blocked set now and after every change.
func (s *Service) WatchBlockedSet(ctx context.Context, blockerID string) (<-chan realtime.Snapshot[[]Block], func(), error) {
	blockerID = strings.TrimSpace(blockerID)
	if blockerID == "" {
		return nil, nil, ErrMissingUserID
	}
	if s.broker == nil {
		s.logError(opWatchBlocks, "missing_broker", nil, zap.String("blocker_id", blockerID))
		return nil, nil, apperr.New(apperr.KindUnavailable, opWatchBlocks+".missing_broker", "live updates are not configured")
	}
	stream, cancel := realtime.Watch(ctx, s.broker, []string{realtime.BlocksTopic(blockerID)}, func(loadCtx context.Context) ([]Block, error) {
		return s.BlockedSet(loadCtx, blockerID)
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
	s.logger.Error("block registry failure", attrs...)
}
