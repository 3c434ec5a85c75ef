package presence

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceRecord is the row backing a user's presence.
type PresenceRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Online           bool   `gorm:"column:online;not null"`
	LastActiveMillis int64  `gorm:"column:last_active_ms;not null"`
}

func (PresenceRecord) TableName() string {
	return "user_presence"
}

// GormStore keeps presence in the relational database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Store = (*GormStore)(nil)

func (s *GormStore) SetOnline(ctx context.Context, userID string, online bool, at time.Time) error {
	record := PresenceRecord{UserID: userID, Online: online, LastActiveMillis: at.UnixMilli()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"online", "last_active_ms"}),
	}).Create(&record).Error
}

func (s *GormStore) Touch(ctx context.Context, userID string, at time.Time) error {
	record := PresenceRecord{UserID: userID, LastActiveMillis: at.UnixMilli()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_active_ms"}),
	}).Create(&record).Error
}

func (s *GormStore) Load(ctx context.Context, userIDs []string) (map[string]Record, error) {
	var rows []PresenceRecord
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make(map[string]Record, len(rows))
	for _, row := range rows {
		records[row.UserID] = Record{
			UserID:     row.UserID,
			Online:     row.Online,
			LastActive: time.UnixMilli(row.LastActiveMillis).UTC(),
		}
	}
	return records, nil
}
