package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

// Task names. Anything outside this set routes to the default queue.
const (
	TaskIngestThread      = "ingest_thread"
	TaskPollThread        = "poll_thread"
	TaskClassifyComments  = "classify_comments"
	TaskLinkEntities      = "link_entities"
	TaskComputeAggregates = "compute_aggregates"
	TaskCheckAlerts       = "check_alerts"
	TaskDeliverAlertEvent = "deliver_alert_event"
)

const (
	QueueDefault   = "default"
	QueueIngestion = "ingestion"
	QueueML        = "ml"
	QueueAlerts    = "alerts"
)

// Queues lists every queue a worker can bind, in routing order.
var Queues = []string{QueueDefault, QueueIngestion, QueueML, QueueAlerts}

var routes = map[string]string{
	TaskIngestThread:      QueueIngestion,
	TaskPollThread:        QueueIngestion,
	TaskClassifyComments:  QueueML,
	TaskLinkEntities:      QueueML,
	TaskComputeAggregates: QueueML,
	TaskCheckAlerts:       QueueAlerts,
	TaskDeliverAlertEvent: QueueAlerts,
}

// BaseTask strips a dotted variant suffix, so "poll_thread.catchup"
// resolves to "poll_thread".
func BaseTask(task string) string {
	if i := strings.IndexByte(task, '.'); i > 0 {
		return task[:i]
	}

	return task
}

// QueueFor routes a task name to its queue. Dotted suffixes route on the
// prefix, so "poll_thread.catchup" still lands on ingestion.
func QueueFor(task string) string {
	if queue, ok := routes[BaseTask(task)]; ok {
		return queue
	}

	return QueueDefault
}

// Envelope is the wire format for one task. Attempt counts completed tries,
// so a fresh task carries zero.
type Envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Args       json.RawMessage `json:"args"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

func NewEnvelope(task string, args interface{}) (*Envelope, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("could not encode args for %s: %w", task, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:         id.String(),
		Task:       task,
		Args:       raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (e *Envelope) Encode() (string, error) {
	bb, err := json.Marshal(e)
	if err != nil {
		return "", err
	}

	return string(bb), nil
}

// DecodeArgs unmarshals the task arguments into v.
func (e *Envelope) DecodeArgs(v interface{}) error {
	if len(e.Args) == 0 {
		return nil
	}

	return json.Unmarshal(e.Args, v)
}

func DecodeEnvelope(payload string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("could not decode envelope: %w", err)
	}

	if env.Task == "" {
		return nil, fmt.Errorf("envelope without a task")
	}

	return &env, nil
}

// Argument shapes for every task.

type IngestThreadArgs struct {
	RedditID  string `json:"reddit_id"`
	Subreddit string `json:"subreddit"`
}

type PollThreadArgs struct {
	ThreadID int64 `json:"thread_id"`
}

type ClassifyCommentsArgs struct {
	CommentIDs []int64 `json:"comment_ids"`
}

type LinkEntitiesArgs struct {
	CommentIDs []int64 `json:"comment_ids"`
}

type ComputeAggregatesArgs struct {
	ThreadID int64 `json:"thread_id"`
}

type CheckAlertsArgs struct {
	ThreadID int64 `json:"thread_id"`
}

type DeliverAlertEventArgs struct {
	EventID int64 `json:"event_id"`
}
