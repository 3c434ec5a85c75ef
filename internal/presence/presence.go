package presence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/realtime"
	"go.uber.org/zap"
)

// StaleAfter is how long an online user may stay silent before being reported offline.
const StaleAfter = 5 * time.Minute

const (
	opServiceNew = "presence.service.new"
	opSetOnline  = "presence.set_online"
	opSetOffline = "presence.set_offline"
	opTouch      = "presence.touch"
	opStatus     = "presence.status"
)

var (
	errMissingStore = errors.New("presence store is required")
	noOpLogger      = zap.NewNop()

	ErrMissingUserID = apperr.New(apperr.KindInvalidInput, "presence.missing_user_id", "user id is required")
)

// Record is the stored presence state of a user.
type Record struct {
	UserID     string
	Online     bool
	LastActive time.Time
}

// Status is the presence of a user as seen by other users.
type Status struct {
	UserID     string
	Online     bool
	LastActive time.Time
	// Stale is set when the user is flagged online but has been silent for longer than StaleAfter.
	Stale bool
}

// Store persists presence records.
type Store interface {
	SetOnline(ctx context.Context, userID string, online bool, at time.Time) error
	Touch(ctx context.Context, userID string, at time.Time) error
	Load(ctx context.Context, userIDs []string) (map[string]Record, error)
}

type ServiceConfig struct {
	Store  Store
	Broker realtime.Broker
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service tracks online flags and last activity.
type Service struct {
	store  Store
	broker realtime.Broker
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_store", "", errMissingStore)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, broker: cfg.Broker, clock: clock, logger: logger}, nil
}

// SetOnline marks the user online, called on login.
func (s *Service) SetOnline(ctx context.Context, userID string) error {
	return s.setOnline(ctx, opSetOnline, userID, true)
}

// SetOffline marks the user offline, called on logout.
func (s *Service) SetOffline(ctx context.Context, userID string) error {
	return s.setOnline(ctx, opSetOffline, userID, false)
}

func (s *Service) setOnline(ctx context.Context, operation, userID string, online bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	now := s.clock().UTC()
	if err := s.store.SetOnline(ctx, userID, online, now); err != nil {
		s.logError(operation, "store_failed", err, zap.String("user_id", userID))
		return apperr.Unavailablef(operation+".store_failed", err)
	}
	realtime.Notify(s.broker, realtime.EventPresenceChanged, now, realtime.PresenceTopic(userID))
	return nil
}

// Touch records activity without changing the online flag.
func (s *Service) Touch(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	now := s.clock().UTC()
	if err := s.store.Touch(ctx, userID, now); err != nil {
		s.logError(opTouch, "store_failed", err, zap.String("user_id", userID))
		return apperr.Unavailablef(opTouch+".store_failed", err)
	}
	return nil
}

// Status reports the presence of one user. Unknown users are offline.
func (s *Service) Status(ctx context.Context, userID string) (Status, error) {
	statuses, err := s.Statuses(ctx, []string{userID})
	if err != nil {
		return Status{}, err
	}
	return statuses[userID], nil
}

// Statuses reports the presence of several users; every requested id is present in the result.
func (s *Service) Statuses(ctx context.Context, userIDs []string) (map[string]Status, error) {
	result := make(map[string]Status, len(userIDs))
	wanted := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if strings.TrimSpace(userID) == "" {
			return nil, ErrMissingUserID
		}
		result[userID] = Status{UserID: userID}
		wanted = append(wanted, userID)
	}
	if len(wanted) == 0 {
		return result, nil
	}
	records, err := s.store.Load(ctx, wanted)
	if err != nil {
		s.logError(opStatus, "load_failed", err, zap.Int("user_count", len(wanted)))
		return nil, apperr.Unavailablef(opStatus+".load_failed", err)
	}
	now := s.clock().UTC()
	for userID, record := range records {
		if _, ok := result[userID]; !ok {
			continue
		}
		result[userID] = evaluate(record, now)
	}
	return result, nil
}

// IsOnline is true for users flagged online whose activity is not stale.
func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.Online, nil
}

func (s *Service) LastActive(ctx context.Context, userID string) (time.Time, error) {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return status.LastActive, nil
}

func evaluate(record Record, now time.Time) Status {
	status := Status{UserID: record.UserID, LastActive: record.LastActive}
	if !record.Online {
		return status
	}
	if now.Sub(record.LastActive) > StaleAfter {
		status.Stale = true
		return status
	}
	status.Online = true
	return status
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
	s.logger.Error("presence failure", attrs...)
}
