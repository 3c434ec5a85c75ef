package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/jobs"
)

func TestRenamePropagatesThroughWorkerPool(t *testing.T) {
	harness := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := jobs.NewWorkerPool(jobs.WorkerPoolConfig{Workers: 1, MaxRetry: 2, BaseBackoff: time.Millisecond})
	RegisterPropagationHandler(pool, harness.service)
	scheduler, err := NewPropagationScheduler(pool)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	harness.profiles.SetPropagator(scheduler)
	done := make(chan struct{})
	go func() {
		_ = pool.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	direct, err := harness.service.GetOrCreateDirect(ctx, "b", "a")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	group, err := harness.service.CreateGroup(ctx, "c", []string{"a"}, "Study")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := harness.profiles.Rename(ctx, "a", "Asha Rao"); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		first, _ := harness.service.GetConversation(ctx, direct.ID)
		second, _ := harness.service.GetConversation(ctx, group.ID)
		firstName, _ := first.NameOf("a")
		secondName, _ := second.NameOf("a")
		if firstName == "Asha Rao" && secondName == "Asha Rao" {
			if name, _ := first.NameOf("b"); name != "Bilal" {
				t.Fatalf("expected other slots untouched, got %q", name)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected propagated names, got %q and %q", firstName, secondName)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPropagateDisplayNameIgnoresUnknownUser(t *testing.T) {
	service := newHarness(t).service
	if err := service.PropagateDisplayName(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := service.PropagateDisplayName(context.Background(), " "); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type recordingQueue struct {
	tasks []jobs.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, task jobs.Task) error {
	q.tasks = append(q.tasks, task)
	return nil
}

func TestPropagationSchedulerEncodesUser(t *testing.T) {
	queue := &recordingQueue{}
	scheduler, err := NewPropagationScheduler(queue)
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	if err := scheduler.ScheduleNamePropagation(context.Background(), "a"); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if len(queue.tasks) != 1 || queue.tasks[0].Type != PropagateDisplayNameTaskType || string(queue.tasks[0].Payload) != `{"user_id":"a"}` {
		t.Fatalf("unexpected tasks %+v", queue.tasks)
	}
	if _, err := NewPropagationScheduler(nil); !errors.Is(err, apperr.InvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
