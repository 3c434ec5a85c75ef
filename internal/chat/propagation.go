package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/lingocircle/internal/apperr"
	"github.com/MarcoPoloResearchLab/lingocircle/internal/jobs"
)

// PropagateDisplayNameTaskType is the job that rewrites cached participant names after
// a profile rename.
const PropagateDisplayNameTaskType = "chat:propagate_display_name"

const propagationTimeout = 30 * time.Second

var errMissingQueue = errors.New("job queue is required")

type propagationPayload struct {
	UserID string `json:"user_id"`
}

// PropagationScheduler enqueues name-propagation jobs. It satisfies profiles.NamePropagator.
type PropagationScheduler struct {
	queue jobs.Queue
}

func NewPropagationScheduler(queue jobs.Queue) (*PropagationScheduler, error) {
	if queue == nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "chat.propagation.missing_queue", "", errMissingQueue)
	}
	return &PropagationScheduler{queue: queue}, nil
}

func (p *PropagationScheduler) ScheduleNamePropagation(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrMissingUserID
	}
	payload, err := json.Marshal(propagationPayload{UserID: userID})
	if err != nil {
		return err
	}
	return p.queue.Enqueue(ctx, jobs.Task{Type: PropagateDisplayNameTaskType, Payload: payload})
}

// RegisterPropagationHandler binds the propagation job to service on runner. Returned
// errors make the runner retry.
func RegisterPropagationHandler(runner jobs.Runner, service *Service) {
	runner.Register(PropagateDisplayNameTaskType, func(ctx context.Context, task jobs.Task) error {
		var payload propagationPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(ctx, propagationTimeout)
		defer cancel()
		return service.PropagateDisplayName(ctx, payload.UserID)
	})
}
