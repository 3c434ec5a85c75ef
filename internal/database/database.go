package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/blocks"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/chat"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/presence"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/social"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects the relational backend.
type Options struct {
	Driver string
	// Path is the SQLite file; ":memory:" style DSNs are accepted as well.
	Path string
	// DSN is the Postgres connection string.
	DSN string
}

// Open connects to the configured database and brings the schema up to date.
func Open(options Options, logger *zap.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch options.Driver {
	case DriverSQLite, "":
		if options.Path == "" {
			return nil, fmt.Errorf("database path is required")
		}
		dialector = sqlite.Open(options.Path)
	case DriverPostgres:
		if options.DSN == "" {
			return nil, fmt.Errorf("database dsn is required for postgres")
		}
		dialector = postgres.Open(options.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", options.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if options.Driver != DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	logger.Info("database initialized", zap.String("driver", dialector.Name()))
	return db, nil
}

// Migrate creates every table of the service and applies pending one-shot migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	err := db.AutoMigrate(
		&profiles.ProfileRecord{},
		&presence.PresenceRecord{},
		&blocks.BlockRecord{},
		&social.FriendRequestRecord{},
		&social.FriendEdgeRecord{},
		&chat.ConversationRecord{},
		&chat.ParticipantRecord{},
		&chat.MessageRecord{},
		&migrationRecord{},
	)
	if err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
