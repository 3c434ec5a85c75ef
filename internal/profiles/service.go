package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew    = "profiles.service.new"
	opEnsureProfile = "profiles.ensure_profile"
	opGetProfile    = "profiles.get_profile"
	opLookup        = "profiles.lookup"
	opSearchByEmail = "profiles.search_by_email"
	opRename        = "profiles.rename"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	ErrMissingUserID    = apperr.New(apperr.KindInvalidInput, "profiles.missing_user_id", "user id is required")
	ErrEmptyDisplayName = apperr.New(apperr.KindInvalidInput, "profiles.rename.empty_name", "display name must not be empty")
	ErrProfileNotFound  = apperr.New(apperr.KindNotFound, "profiles.profile_not_found", "user not found")
)

// NamePropagator schedules the rewrite of cached names after a rename.
type NamePropagator interface {
	ScheduleNamePropagation(ctx context.Context, userID string) error
}

// ServiceConfig describes the dependencies of the profile store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	Logger     *zap.Logger
	Propagator NamePropagator
}

// Service maps user identifiers to display names and emails.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	logger     *zap.Logger
	propagator NamePropagator
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, opServiceNew+".missing_database", "", errMissingDatabase)
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
		db:         cfg.Database,
		clock:      clock,
		logger:     logger,
		propagator: cfg.Propagator,
	}, nil
}

// SetPropagator wires the rename fan-out after construction; the chat engine depends on
// the profile store, so the scheduler is built second.
func (s *Service) SetPropagator(propagator NamePropagator) {
	s.propagator = propagator
}

// EnsureProfile creates the profile on first login. Existing profiles keep their display
// name, which the user may have edited, and refresh their email.
func (s *Service) EnsureProfile(ctx context.Context, identity Identity) (Profile, error) {
	userID := strings.TrimSpace(identity.UserID)
	if userID == "" {
		return Profile{}, ErrMissingUserID
	}
	now := s.clock().UTC().UnixMilli()
	email := NormalizeEmail(identity.Email)

	var record ProfileRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("user_id = ?", userID).Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			record = ProfileRecord{
				UserID:          userID,
				DisplayName:     ResolveDisplayName(identity.DisplayName, identity.Email),
				Email:           email,
				CreatedAtMillis: now,
				UpdatedAtMillis: now,
			}
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
		}
		if err != nil {
			return err
		}
		if email != "" && email != record.Email {
			record.Email = email
			record.UpdatedAtMillis = now
			return tx.Model(&ProfileRecord{}).
				Where("user_id = ?", userID).
				Updates(map[string]interface{}{"email": email, "updated_at_ms": now}).Error
		}
		return nil
	})
	if txErr != nil {
		s.logError(opEnsureProfile, "store_failed", txErr, zap.String("user_id", userID))
		return Profile{}, apperr.Unavailablef(opEnsureProfile+".store_failed", txErr)
	}
	return record.toProfile()
}

// GetProfile returns the profile, reporting found=false when the user is unknown.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, false, ErrMissingUserID
	}
	var record ProfileRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		s.logError(opGetProfile, "query_failed", err, zap.String("user_id", userID))
		return Profile{}, false, apperr.Unavailablef(opGetProfile+".query_failed", err)
	}
	profile, err := record.toProfile()
	if err != nil {
		s.logError(opGetProfile, "malformed_record", err, zap.String("user_id", userID))
		return Profile{}, false, err
	}
	return profile, true, nil
}

// DisplayName resolves the current display name of a user.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, bool, error) {
	profile, found, err := s.GetProfile(ctx, userID)
	if err != nil || !found {
		return "", found, err
	}
	return profile.DisplayName, true, nil
}

// Lookup loads the profiles of several users at once. Unknown users are absent from the map.
func (s *Service) Lookup(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	result := make(map[string]Profile, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	var records []ProfileRecord
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&records).Error; err != nil {
		s.logError(opLookup, "query_failed", err, zap.Int("user_count", len(userIDs)))
		return nil, apperr.Unavailablef(opLookup+".query_failed", err)
	}
	for _, record := range records {
		profile, err := record.toProfile()
		if err != nil {
			s.logError(opLookup, "malformed_record", err, zap.String("user_id", record.UserID))
			continue
		}
		result[profile.UserID] = profile
	}
	return result, nil
}

// SearchByEmail returns the profiles whose email matches exactly, excluding the caller.
func (s *Service) SearchByEmail(ctx context.Context, email, excludeUserID string) ([]Profile, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return []Profile{}, nil
	}
	var records []ProfileRecord
	err := s.db.WithContext(ctx).
		Where("email = ? AND user_id <> ?", normalized, excludeUserID).
		Order("user_id ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opSearchByEmail, "query_failed", err)
		return nil, apperr.Unavailablef(opSearchByEmail+".query_failed", err)
	}
	matches := make([]Profile, 0, len(records))
	for _, record := range records {
		profile, err := record.toProfile()
		if err != nil {
			s.logError(opSearchByEmail, "malformed_record", err, zap.String("user_id", record.UserID))
			continue
		}
		matches = append(matches, profile)
	}
	return matches, nil
}

// Rename updates the canonical display name and schedules the propagation of the new name
// into cached conversation names. A scheduling failure is logged and does not fail the rename.
func (s *Service) Rename(ctx context.Context, userID, newName string) (Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Profile{}, ErrMissingUserID
	}
	name := strings.TrimSpace(newName)
	if name == "" {
		return Profile{}, ErrEmptyDisplayName
	}
	now := s.clock().UTC().UnixMilli()
	result := s.db.WithContext(ctx).Model(&ProfileRecord{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"display_name": name, "updated_at_ms": now})
	if result.Error != nil {
		s.logError(opRename, "update_failed", result.Error, zap.String("user_id", userID))
		return Profile{}, apperr.Unavailablef(opRename+".update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return Profile{}, ErrProfileNotFound
	}

	if s.propagator != nil {
		if err := s.propagator.ScheduleNamePropagation(ctx, userID); err != nil {
			s.logError(opRename, "propagation_schedule_failed", err, zap.String("user_id", userID))
		}
	}

	profile, found, err := s.GetProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if !found {
		return Profile{}, ErrProfileNotFound
	}
	return profile, nil
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
	s.logger.Error("profile store failure", attrs...)
}
