package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/profiles"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memoryRepository is an in-process Repository with failure switches.
type memoryRepository struct {
	mu            sync.Mutex
	conversations map[string]Conversation
	messages      map[string][]Message
	applyCalls    int

	failGet    bool
	failApply  bool
	failAppend bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		conversations: make(map[string]Conversation),
		messages:      make(map[string][]Message),
	}
}

var errStoreDown = errors.New("store down")

func (r *memoryRepository) FindDirect(_ context.Context, firstUserID, secondUserID string) (Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conversation := range r.conversations {
		if conversation.Kind == KindDirect && conversation.HasParticipant(firstUserID) && conversation.HasParticipant(secondUserID) {
			return conversation.clone(), true, nil
		}
	}
	return Conversation{}, false, nil
}

func (r *memoryRepository) CreateConversation(_ context.Context, conversation Conversation, initial []Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ID] = conversation.clone()
	r.messages[conversation.ID] = append(r.messages[conversation.ID], initial...)
	return nil
}

func (r *memoryRepository) GetConversation(_ context.Context, conversationID string) (Conversation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet {
		return Conversation{}, false, errStoreDown
	}
	conversation, ok := r.conversations[conversationID]
	return conversation.clone(), ok, nil
}

func (r *memoryRepository) ListActiveFor(_ context.Context, userID string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []Conversation
	for _, conversation := range r.conversations {
		if !conversation.Archived && conversation.HasParticipant(userID) {
			active = append(active, conversation.clone())
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UpdatedAt.After(active[j].UpdatedAt) })
	return active, nil
}

func (r *memoryRepository) AppendMessage(_ context.Context, message Message) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAppend {
		return Conversation{}, errStoreDown
	}
	conversation, ok := r.conversations[message.ConversationID]
	if !ok || conversation.Archived || !conversation.HasParticipant(message.SenderID) {
		return Conversation{}, ErrNotWritable
	}
	conversation.UpdatedAt = message.CreatedAt
	r.conversations[message.ConversationID] = conversation
	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], message)
	return conversation.clone(), nil
}

func (r *memoryRepository) ApplyMembershipChange(_ context.Context, conversation Conversation, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.failApply {
		return errStoreDown
	}
	r.conversations[conversation.ID] = conversation.clone()
	r.messages[conversation.ID] = append(r.messages[conversation.ID], message)
	return nil
}

func (r *memoryRepository) RenameParticipant(_ context.Context, userID, name string) ([]Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var touched []Conversation
	for id, conversation := range r.conversations {
		index := conversation.IndexOf(userID)
		if index < 0 {
			continue
		}
		conversation = conversation.clone()
		conversation.ParticipantNames[index] = name
		r.conversations[id] = conversation
		touched = append(touched, conversation.clone())
	}
	return touched, nil
}

func (r *memoryRepository) ListMessages(_ context.Context, conversationID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages[conversationID]...), nil
}

func (r *memoryRepository) LatestMessages(_ context.Context, conversationIDs []string) (map[string]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]Message)
	for _, id := range conversationIDs {
		if log := r.messages[id]; len(log) > 0 {
			latest[id] = log[len(log)-1]
		}
	}
	return latest, nil
}

type staticDirectory struct {
	profiles map[string]profiles.Profile
	fail     bool
}

func (d staticDirectory) GetProfile(_ context.Context, userID string) (profiles.Profile, bool, error) {
	if d.fail {
		return profiles.Profile{}, false, errStoreDown
	}
	profile, ok := d.profiles[userID]
	return profile, ok, nil
}

func (d staticDirectory) Lookup(_ context.Context, userIDs []string) (map[string]profiles.Profile, error) {
	if d.fail {
		return nil, errStoreDown
	}
	found := make(map[string]profiles.Profile)
	for _, userID := range userIDs {
		if profile, ok := d.profiles[userID]; ok {
			found[userID] = profile
		}
	}
	return found, nil
}

type failingBlocks struct{}

func (failingBlocks) IsBlocked(context.Context, string, string) (bool, error) {
	return false, errStoreDown
}

type noBlocks struct{}

func (noBlocks) IsBlocked(context.Context, string, string) (bool, error) {
	return false, nil
}

func newMemoryService(t *testing.T, repo *memoryRepository, directory Directory, checker BlockChecker) (*Service, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.ErrorLevel)
	service, err := NewService(ServiceConfig{
		Repository: repo,
		Directory:  directory,
		Blocks:     checker,
		Clock:      (&steppingClock{}).Now,
		IDProvider: &sequenceIDGenerator{},
		Logger:     zap.New(core),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, logs
}

func seededDirectory() staticDirectory {
	return staticDirectory{profiles: map[string]profiles.Profile{
		"a": {UserID: "a", DisplayName: "Asha"},
		"b": {UserID: "b", DisplayName: "Bilal"},
		"c": {UserID: "c", DisplayName: "Chen"},
	}}
}

func TestAddMemberTreatsBlockLookupFailureAsNoBlock(t *testing.T) {
	repo := newMemoryRepository()
	service, logs := newMemoryService(t, repo, seededDirectory(), failingBlocks{})
	ctx := context.Background()
	group, err := service.CreateGroup(ctx, "a", []string{"b"}, "Study")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	added, err := service.AddMember(ctx, group.ID, "c", "a")
	if err != nil {
		t.Fatalf("expected add to proceed, got %v", err)
	}
	if !added.HasParticipant("c") {
		t.Fatalf("expected c to be added, got %v", added.Participants)
	}
	if logs.FilterField(zap.String("reason", "block_lookup_failed")).Len() != 2 {
		t.Fatalf("expected both block lookups to be logged, got %d entries", logs.Len())
	}
}

func TestAddMemberLeavesStateUntouchedOnWriteFailure(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newMemoryService(t, repo, seededDirectory(), noBlocks{})
	ctx := context.Background()
	group, err := service.CreateGroup(ctx, "a", []string{"b"}, "Study")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	repo.failApply = true
	if _, err := service.AddMember(ctx, group.ID, "c", "a"); !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	repo.failApply = false
	stored, _, _ := repo.GetConversation(ctx, group.ID)
	if len(stored.Participants) != 2 || len(repo.messages[group.ID]) != 1 {
		t.Fatalf("expected untouched group, got %+v with %d messages", stored, len(repo.messages[group.ID]))
	}
}

func TestAddMemberFailingChecksNeverWrite(t *testing.T) {
	repo := newMemoryRepository()
	directory := seededDirectory()
	service, _ := newMemoryService(t, repo, directory, noBlocks{})
	ctx := context.Background()
	group, err := service.CreateGroup(ctx, "a", []string{"b"}, "Study")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := service.AddMember(ctx, group.ID, "ghost", "a"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := service.AddMember(ctx, group.ID, "b", "a"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected already member, got %v", err)
	}
	if repo.applyCalls != 0 {
		t.Fatalf("expected no writes, got %d", repo.applyCalls)
	}

	directory.fail = true
	failing, _ := newMemoryService(t, repo, directory, noBlocks{})
	if _, err := failing.AddMember(ctx, group.ID, "c", "a"); !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("expected unavailable on profile outage, got %v", err)
	}
	if repo.applyCalls != 0 {
		t.Fatalf("expected no writes, got %d", repo.applyCalls)
	}
}

func TestLookupFailuresSurfaceAsUnavailable(t *testing.T) {
	repo := newMemoryRepository()
	service, _ := newMemoryService(t, repo, seededDirectory(), noBlocks{})
	ctx := context.Background()
	group, err := service.CreateGroup(ctx, "a", []string{"b"}, "Study")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	repo.failGet = true
	if _, err := service.LeaveGroup(ctx, group.ID, "a"); !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	repo.failGet = false
	repo.failAppend = true
	if _, err := service.SendMessage(ctx, group.ID, Sender{UserID: "a"}, "hi"); !errors.Is(err, apperr.Unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestEmptyTextIsRejectedBeforeStoreAccess(t *testing.T) {
	repo := newMemoryRepository()
	repo.failAppend = true
	service, _ := newMemoryService(t, repo, staticDirectory{fail: true}, noBlocks{})
	if _, err := service.SendMessage(context.Background(), "", Sender{}, "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected empty message error, got %v", err)
	}
}

func TestSendMessageSurvivesProfileOutage(t *testing.T) {
	repo := newMemoryRepository()
	now := time.Unix(1700000000, 0).UTC()
	repo.conversations["c1"] = Conversation{
		ID: "c1", Kind: KindDirect,
		Participants: []string{"a", "b"}, ParticipantNames: []string{"Asha", "Bilal"},
		CreatedAt: now, UpdatedAt: now,
	}
	service, _ := newMemoryService(t, repo, staticDirectory{fail: true}, noBlocks{})
	message, err := service.SendMessage(context.Background(), "c1", Sender{UserID: "a", Name: "Asha (local)"}, "hi")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if message.SenderName != "Asha (local)" {
		t.Fatalf("expected local identity name, got %q", message.SenderName)
	}
}
