package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var databaseSequence int64

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, atomic.AddInt64(&databaseSequence, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&ProfileRecord{}); err != nil {
		t.Fatalf("failed to migrate profile schema: %v", err)
	}
	return db
}

type recordingPropagator struct {
	userIDs []string
	err     error
}

func (p *recordingPropagator) ScheduleNamePropagation(_ context.Context, userID string) error {
	p.userIDs = append(p.userIDs, userID)
	return p.err
}

func newTestService(t *testing.T, propagator NamePropagator, logger *zap.Logger) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   openTestDatabase(t),
		Clock:      func() time.Time { return time.Unix(1700000000, 0) },
		Logger:     logger,
		Propagator: propagator,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestEnsureProfileResolvesDisplayName(t *testing.T) {
	service := newTestService(t, nil, nil)
	ctx := context.Background()

	testCases := []struct {
		identity Identity
		want     string
	}{
		{identity: Identity{UserID: "u-1", DisplayName: " Asha ", Email: "asha@example.com"}, want: "Asha"},
		{identity: Identity{UserID: "u-2", Email: "ravi@example.com"}, want: "ravi"},
		{identity: Identity{UserID: "u-3"}, want: FallbackName},
	}
	for _, testCase := range testCases {
		profile, err := service.EnsureProfile(ctx, testCase.identity)
		if err != nil {
			t.Fatalf("ensure failed: %v", err)
		}
		if profile.DisplayName != testCase.want {
			t.Fatalf("expected display name %q, got %q", testCase.want, profile.DisplayName)
		}
	}
}

func TestEnsureProfileKeepsEditedNameAndRefreshesEmail(t *testing.T) {
	service := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := service.EnsureProfile(ctx, Identity{UserID: "u-1", DisplayName: "Asha", Email: "asha@example.com"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if _, err := service.Rename(ctx, "u-1", "Asha K"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	profile, err := service.EnsureProfile(ctx, Identity{UserID: "u-1", DisplayName: "Asha", Email: "Asha.K@Example.com"})
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if profile.DisplayName != "Asha K" {
		t.Fatalf("expected edited name to survive login, got %q", profile.DisplayName)
	}
	if profile.Email != "asha.k@example.com" {
		t.Fatalf("expected refreshed normalized email, got %q", profile.Email)
	}
}

func TestSearchByEmailIsExactAndExcludesCaller(t *testing.T) {
	service := newTestService(t, nil, nil)
	ctx := context.Background()
	for _, identity := range []Identity{
		{UserID: "a", Email: "a@x.com"},
		{UserID: "b", Email: "b@x.com"},
		{UserID: "bb", Email: "bb@x.com"},
	} {
		if _, err := service.EnsureProfile(ctx, identity); err != nil {
			t.Fatalf("ensure failed: %v", err)
		}
	}

	matches, err := service.SearchByEmail(ctx, " B@X.com ", "a")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(matches) != 1 || matches[0].UserID != "b" {
		t.Fatalf("expected exactly user b, got %+v", matches)
	}

	self, err := service.SearchByEmail(ctx, "a@x.com", "a")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(self) != 0 {
		t.Fatalf("expected caller to be excluded, got %+v", self)
	}

	blank, err := service.SearchByEmail(ctx, "  ", "a")
	if err != nil || len(blank) != 0 {
		t.Fatalf("expected empty result for blank email, got %+v %v", blank, err)
	}
}

func TestGetProfileReportsAbsence(t *testing.T) {
	service := newTestService(t, nil, nil)
	_, found, err := service.GetProfile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected missing profile to be reported absent")
	}
	if _, _, err := service.GetProfile(context.Background(), ""); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected invalid input for empty id, got %v", err)
	}
}

func TestRenameValidatesAndSchedulesPropagation(t *testing.T) {
	propagator := &recordingPropagator{}
	service := newTestService(t, propagator, nil)
	ctx := context.Background()

	if _, err := service.Rename(ctx, "ghost", "Name"); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
	if _, err := service.EnsureProfile(ctx, Identity{UserID: "u-1", Email: "u1@example.com"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if _, err := service.Rename(ctx, "u-1", "   "); !errors.Is(err, ErrEmptyDisplayName) {
		t.Fatalf("expected empty name error, got %v", err)
	}

	profile, err := service.Rename(ctx, "u-1", "  Meera ")
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if profile.DisplayName != "Meera" {
		t.Fatalf("expected trimmed name, got %q", profile.DisplayName)
	}
	if len(propagator.userIDs) != 1 || propagator.userIDs[0] != "u-1" {
		t.Fatalf("expected one propagation for u-1, got %v", propagator.userIDs)
	}
}

func TestRenameSurvivesPropagationFailure(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	propagator := &recordingPropagator{err: errors.New("queue down")}
	service := newTestService(t, propagator, zap.New(core))
	ctx := context.Background()

	if _, err := service.EnsureProfile(ctx, Identity{UserID: "u-1", DisplayName: "Old"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	profile, err := service.Rename(ctx, "u-1", "New")
	if err != nil {
		t.Fatalf("rename must not fail on propagation errors: %v", err)
	}
	if profile.DisplayName != "New" {
		t.Fatalf("expected new name, got %q", profile.DisplayName)
	}

	entries := logs.FilterField(zap.String("reason", "propagation_schedule_failed")).All()
	if len(entries) != 1 {
		t.Fatalf("expected propagation failure to be logged once, got %d", len(entries))
	}
}

func TestLookupSkipsUnknownUsers(t *testing.T) {
	service := newTestService(t, nil, nil)
	ctx := context.Background()
	if _, err := service.EnsureProfile(ctx, Identity{UserID: "u-1", DisplayName: "One"}); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	found, err := service.Lookup(ctx, []string{"u-1", "u-2"})
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(found) != 1 || found["u-1"].DisplayName != "One" {
		t.Fatalf("unexpected lookup result %+v", found)
	}
}
