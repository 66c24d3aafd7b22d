package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

const (
	// TopicCampaignProgress carries a ProgressEvent after every contact and at run end.
	TopicCampaignProgress = "campaign_progress"
	// TopicCampaignCommands carries Command values for the command worker.
	TopicCampaignCommands = "campaign_commands"
)

// Command actions understood by the command worker.
const (
	ActionStart = "start"
	ActionPause = "pause"
	ActionStop  = "stop"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// Command asks the broadcast executor to act on a campaign.
type Command struct {
	Action     string    `json:"action"`
	CampaignID int       `json:"campaign_id"`
	IssuedAt   time.Time `json:"issued_at"`
}

// ProgressEvent reports a campaign run's counters.
type ProgressEvent struct {
	CampaignID int                    `json:"campaign_id"`
	Status     model.CampaignStatus   `json:"status"`
	Counters   model.CampaignCounters `json:"counters"`
	ContactID  int64                  `json:"contact_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Outcome    string                 `json:"outcome,omitempty"`
	Final      bool                   `json:"final"`
	At         time.Time              `json:"at"`
}

// Decode fills v from a payload delivered by either queue implementation:
// raw JSON bytes from the broker or the original value in memory.
func Decode(payload any, v any) error {
	var raw []byte
	switch p := payload.(type) {
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		raw = b
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// InMemoryQueue is a production-ready in-memory queue with retry
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	log      zerolog.Logger
	backoff  time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log zerolog.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers: make(map[string][]func(payload any) error),
		log:      log,
		backoff:  500 * time.Millisecond,
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// ErrNoSubscribers is returned by Publish when nobody listens on the topic.
var ErrNoSubscribers = fmt.Errorf("no subscribers")

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("%w for topic %s", ErrNoSubscribers, topic)
	}

	job := JobPayload{
		Topic:      topic,
		Payload:    payload,
		RetryCount: 0,
		MaxRetries: 3,
	}

	for _, handler := range handlers {
		go q.processJob(handler, job)
	}

	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			q.log.Debug().Str("topic", job.Topic).Msg("job processed")
			return // ACK
		}

		job.RetryCount++
		q.log.Warn().Err(err).Str("topic", job.Topic).Int("attempt", job.RetryCount).Int("max", job.MaxRetries).Msg("job failed")

		if job.RetryCount > job.MaxRetries {
			q.log.Error().Str("topic", job.Topic).Int("attempts", job.MaxRetries).Msg("job permanently failed")
			return // No requeue
		}

		// Linear backoff before retry
		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}
