package blocks

import (
	"context"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Block records that BlockerID blocked BlockedID.
type Block struct {
	BlockerID string
	BlockedID string
	CreatedAt time.Time
}

// Repository persists block records. The registry is its only writer.
type Repository interface {
	Upsert(ctx context.Context, block Block) error
	Delete(ctx context.Context, blockerID, blockedID string) error
	Exists(ctx context.Context, blockerID, blockedID string) (bool, error)
	ListByBlocker(ctx context.Context, blockerID string) ([]Block, error)
}

// BlockRecord is the row backing a block.
type BlockRecord struct {
	BlockerID       string `gorm:"column:blocker_id;primaryKey;size:190;not null"`
	BlockedID       string `gorm:"column:blocked_id;primaryKey;size:190;not null;index"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

func (BlockRecord) TableName() string {
	return "user_blocks"
}

func (r BlockRecord) toBlock() (Block, error) {
	if strings.TrimSpace(r.BlockerID) == "" || strings.TrimSpace(r.BlockedID) == "" {
		return Block{}, apperr.Malformed("blocks.record.missing_user_id", "block row without both user ids")
	}
	return Block{
		BlockerID: r.BlockerID,
		BlockedID: r.BlockedID,
		CreatedAt: time.UnixMilli(r.CreatedAtMillis).UTC(),
	}, nil
}

// GormRepository stores blocks in the relational database.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

func (r *GormRepository) Upsert(ctx context.Context, block Block) error {
	record := BlockRecord{
		BlockerID:       block.BlockerID,
		BlockedID:       block.BlockedID,
		CreatedAtMillis: block.CreatedAt.UnixMilli(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blocker_id"}, {Name: "blocked_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"created_at_ms"}),
	}).Create(&record).Error
}

func (r *GormRepository) Delete(ctx context.Context, blockerID, blockedID string) error {
	return r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&BlockRecord{}).Error
}

func (r *GormRepository) Exists(ctx context.Context, blockerID, blockedID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&BlockRecord{}).
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) ListByBlocker(ctx context.Context, blockerID string) ([]Block, error) {
	var records []BlockRecord
	err := r.db.WithContext(ctx).
		Where("blocker_id = ?", blockerID).
		Order("created_at_ms ASC, blocked_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	blocks := make([]Block, 0, len(records))
	for _, record := range records {
		block, err := record.toBlock()
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}
