package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const taskTypePrefix = "event:"

// TaskType returns the asynq task type name for a topic.
func TaskType(topic string) string {
	return taskTypePrefix + topic
}

type taskEnvelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// EncodeTask converts an event into an asynq task for the worker.
func EncodeTask(event Event) (*asynq.Task, error) {
	raw, err := json.Marshal(taskEnvelope{
		ID:          event.ID,
		Topic:       event.Topic,
		AggregateID: event.AggregateID,
		Payload:     event.Payload,
		OccurredAt:  event.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("events: encode task: %w", err)
	}
	return asynq.NewTask(TaskType(event.Topic), raw), nil
}

// DecodeTask is the inverse of EncodeTask.
func DecodeTask(t *asynq.Task) (Event, error) {
	if !strings.HasPrefix(t.Type(), taskTypePrefix) {
		return Event{}, fmt.Errorf("events: unexpected task type %q", t.Type())
	}
	var env taskEnvelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		return Event{}, fmt.Errorf("events: decode task: %w", err)
	}
	return Event{
		ID:          env.ID,
		Topic:       env.Topic,
		AggregateID: env.AggregateID,
		Payload:     env.Payload,
		OccurredAt:  env.OccurredAt,
	}, nil
}

// TaskNotifier hands emitted events to the asynq-backed worker so that slow
// follow-up work (receipts, emails) runs out of the request path. The event
// id doubles as the task id, so re-emitting the same event enqueues once.
type TaskNotifier struct {
	Client   *asynq.Client
	Queue    string
	MaxRetry int
}

// Notify implements Notifier.
func (n TaskNotifier) Notify(ctx context.Context, event Event) error {
	if n.Client == nil {
		return errors.New("events: task client not configured")
	}
	task, err := EncodeTask(event)
	if err != nil {
		return err
	}
	queue := n.Queue
	if queue == "" {
		queue = "default"
	}
	maxRetry := n.MaxRetry
	if maxRetry <= 0 {
		maxRetry = 5
	}
	_, err = n.Client.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.TaskID(event.ID),
		asynq.MaxRetry(maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("events: enqueue task: %w", err)
	}
	return nil
}

// Dispatcher processes event tasks on the worker side.
type Dispatcher struct {
	Logger zerolog.Logger
}

// ProcessTask satisfies asynq.Handler.
func (d Dispatcher) ProcessTask(_ context.Context, t *asynq.Task) error {
	event, err := DecodeTask(t)
	if err != nil {
		// Malformed payloads never become processable; retrying burns the queue.
		d.Logger.Error().Err(err).Str("task", t.Type()).Msg("drop undecodable event task")
		return nil
	}
	d.Logger.Info().
		Str("topic", event.Topic).
		Str("aggregate_id", event.AggregateID).
		RawJSON("payload", event.Payload).
		Time("occurred_at", event.OccurredAt).
		Msg("event task processed")
	return nil
}
