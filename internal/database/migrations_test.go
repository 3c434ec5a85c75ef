package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesProfiles(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&profiles.ProfileRecord{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := []profiles.ProfileRecord{
		{UserID: "user-1", DisplayName: "Asha", Email: "  Asha@Example.COM ", CreatedAtMillis: 1, UpdatedAtMillis: 1},
		{UserID: "user-2", DisplayName: "Bilal", Email: "b@x.com", CreatedAtMillis: 1, UpdatedAtMillis: 1},
	}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert profiles: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var first profiles.ProfileRecord
	if err := database.Where("user_id = ?", "user-1").Take(&first).Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if first.Email != "asha@example.com" {
		testContext.Fatalf("expected normalized email, got %q", first.Email)
	}
	var second profiles.ProfileRecord
	if err := database.Where("user_id = ?", "user-2").Take(&second).Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if second.Email != "b@x.com" {
		testContext.Fatalf("expected normalized email untouched, got %q", second.Email)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationNormalizeProfileEmails).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	// A second run is a no-op.
	if err := database.Model(&profiles.ProfileRecord{}).Where("user_id = ?", "user-1").Update("email", "MIXED@x.com").Error; err != nil {
		testContext.Fatalf("failed to update profile: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to reapply migrations: %v", err)
	}
	if err := database.Where("user_id = ?", "user-1").Take(&first).Error; err != nil {
		testContext.Fatalf("failed to reload profile: %v", err)
	}
	if first.Email != "MIXED@x.com" {
		testContext.Fatalf("expected applied migration to be skipped, got %q", first.Email)
	}
}

func TestOpenCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "lingocircle.db")
	database, err := Open(Options{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	for _, table := range []string{"user_profiles", "user_presence", "user_blocks", "friend_requests", "friend_edges", "conversations", "conversation_participants", "conversation_messages", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
}

func TestOpenValidatesOptions(testContext *testing.T) {
	if _, err := Open(Options{Driver: DriverSQLite}, nil); err == nil {
		testContext.Fatal("expected missing path error")
	}
	if _, err := Open(Options{Driver: DriverPostgres}, nil); err == nil {
		testContext.Fatal("expected missing dsn error")
	}
	if _, err := Open(Options{Driver: "mysql", Path: "x"}, nil); err == nil {
		testContext.Fatal("expected unsupported driver error")
	}
}
