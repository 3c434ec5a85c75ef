package social

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestStatus is the lifecycle state of a friend request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

func (s RequestStatus) valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusAccepted, RequestStatusRejected:
		return true
	default:
		return false
	}
}

// FriendRequest is a directed request from FromUserID to ToUserID.
type FriendRequest struct {
	ID         string
	FromUserID string
	ToUserID   string
	Status     RequestStatus
	CreatedAt  time.Time
}

// FriendEdge is one half of a friendship, stored under OwnerID's list.
type FriendEdge struct {
	OwnerID   string
	PeerID    string
	CreatedAt time.Time
}

// Repository persists requests and edges. The social graph is its only writer.
type Repository interface {
	CreateRequest(ctx context.Context, request FriendRequest) error
	FindPendingRequest(ctx context.Context, fromUserID, toUserID string) (FriendRequest, bool, error)
	GetRequest(ctx context.Context, requestID string) (FriendRequest, bool, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status RequestStatus) error
	DeleteRequest(ctx context.Context, requestID string) error
	ListPendingRequestsTo(ctx context.Context, toUserID string) ([]FriendRequest, error)
	CreateEdgePair(ctx context.Context, first, second FriendEdge) error
	DeleteEdgePair(ctx context.Context, firstUserID, secondUserID string) error
	ListEdges(ctx context.Context, ownerID string) ([]FriendEdge, error)
	EdgeExists(ctx context.Context, ownerID, peerID string) (bool, error)
}

// FriendRequestRecord is the row backing a friend request.
type FriendRequestRecord struct {
	RequestID       string `gorm:"column:request_id;primaryKey;size:64;not null"`
	FromUserID      string `gorm:"column:from_user_id;size:190;not null;index:idx_friend_requests_pair"`
	ToUserID        string `gorm:"column:to_user_id;size:190;not null;index:idx_friend_requests_pair;index"`
	Status          string `gorm:"column:status;size:16;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

func (FriendRequestRecord) TableName() string {
	return "friend_requests"
}

func (r FriendRequestRecord) toRequest() (FriendRequest, error) {
	if strings.TrimSpace(r.RequestID) == "" || strings.TrimSpace(r.FromUserID) == "" || strings.TrimSpace(r.ToUserID) == "" {
		return FriendRequest{}, apperr.Malformed("social.record.request_missing_field", "friend request row missing id or parties")
	}
	status := RequestStatus(r.Status)
	if !status.valid() {
		return FriendRequest{}, apperr.Malformed("social.record.request_invalid_status", "friend request row has status "+r.Status)
	}
	return FriendRequest{
		ID:         r.RequestID,
		FromUserID: r.FromUserID,
		ToUserID:   r.ToUserID,
		Status:     status,
		CreatedAt:  time.UnixMilli(r.CreatedAtMillis).UTC(),
	}, nil
}

// FriendEdgeRecord is the row backing one half of a friendship.
type FriendEdgeRecord struct {
	OwnerID         string `gorm:"column:owner_id;primaryKey;size:190;not null"`
	PeerID          string `gorm:"column:peer_id;primaryKey;size:190;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

func (FriendEdgeRecord) TableName() string {
	return "friend_edges"
}

func (r FriendEdgeRecord) toEdge() (FriendEdge, error) {
	if strings.TrimSpace(r.OwnerID) == "" || strings.TrimSpace(r.PeerID) == "" {
		return FriendEdge{}, apperr.Malformed("social.record.edge_missing_field", "friend edge row missing owner or peer")
	}
	return FriendEdge{
		OwnerID:   r.OwnerID,
		PeerID:    r.PeerID,
		CreatedAt: time.UnixMilli(r.CreatedAtMillis).UTC(),
	}, nil
}

// GormRepository stores the social graph in the relational database.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

func (r *GormRepository) CreateRequest(ctx context.Context, request FriendRequest) error {
	record := FriendRequestRecord{
		RequestID:       request.ID,
		FromUserID:      request.FromUserID,
		ToUserID:        request.ToUserID,
		Status:          string(request.Status),
		CreatedAtMillis: request.CreatedAt.UnixMilli(),
	}
	return r.db.WithContext(ctx).Create(&record).Error
}

func (r *GormRepository) FindPendingRequest(ctx context.Context, fromUserID, toUserID string) (FriendRequest, bool, error) {
	var record FriendRequestRecord
	err := r.db.WithContext(ctx).
		Where("from_user_id = ? AND to_user_id = ? AND status = ?", fromUserID, toUserID, string(RequestStatusPending)).
		Order("created_at_ms ASC").
		Take(&record).Error
	return r.decodeRequest(record, err)
}

func (r *GormRepository) GetRequest(ctx context.Context, requestID string) (FriendRequest, bool, error) {
	var record FriendRequestRecord
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Take(&record).Error
	return r.decodeRequest(record, err)
}

func (r *GormRepository) decodeRequest(record FriendRequestRecord, err error) (FriendRequest, bool, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FriendRequest{}, false, nil
	}
	if err != nil {
		return FriendRequest{}, false, err
	}
	request, err := record.toRequest()
	if err != nil {
		return FriendRequest{}, false, err
	}
	return request, true, nil
}

func (r *GormRepository) UpdateRequestStatus(ctx context.Context, requestID string, status RequestStatus) error {
	return r.db.WithContext(ctx).Model(&FriendRequestRecord{}).
		Where("request_id = ?", requestID).
		Update("status", string(status)).Error
}

func (r *GormRepository) DeleteRequest(ctx context.Context, requestID string) error {
	return r.db.WithContext(ctx).Where("request_id = ?", requestID).Delete(&FriendRequestRecord{}).Error
}

func (r *GormRepository) ListPendingRequestsTo(ctx context.Context, toUserID string) ([]FriendRequest, error) {
	var records []FriendRequestRecord
	err := r.db.WithContext(ctx).
		Where("to_user_id = ? AND status = ?", toUserID, string(RequestStatusPending)).
		Order("created_at_ms ASC, request_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	requests := make([]FriendRequest, 0, len(records))
	for _, record := range records {
		request, err := record.toRequest()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// CreateEdgePair writes both halves in one transaction; existing halves are kept.
func (r *GormRepository) CreateEdgePair(ctx context.Context, first, second FriendEdge) error {
	records := []FriendEdgeRecord{
		{OwnerID: first.OwnerID, PeerID: first.PeerID, CreatedAtMillis: first.CreatedAt.UnixMilli()},
		{OwnerID: second.OwnerID, PeerID: second.PeerID, CreatedAtMillis: second.CreatedAt.UnixMilli()},
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
	})
}

// DeleteEdgePair removes both halves; missing halves are ignored.
func (r *GormRepository) DeleteEdgePair(ctx context.Context, firstUserID, secondUserID string) error {
	return r.db.WithContext(ctx).
		Where("(owner_id = ? AND peer_id = ?) OR (owner_id = ? AND peer_id = ?)",
			firstUserID, secondUserID, secondUserID, firstUserID).
		Delete(&FriendEdgeRecord{}).Error
}

func (r *GormRepository) ListEdges(ctx context.Context, ownerID string) ([]FriendEdge, error) {
	var records []FriendEdgeRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at_ms ASC, peer_id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	edges := make([]FriendEdge, 0, len(records))
	for _, record := range records {
		edge, err := record.toEdge()
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func (r *GormRepository) EdgeExists(ctx context.Context, ownerID, peerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&FriendEdgeRecord{}).
		Where("owner_id = ? AND peer_id = ?", ownerID, peerID).
		Count(&count).Error
	return count > 0, err
}
