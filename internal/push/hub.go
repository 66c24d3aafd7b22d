// Package push fans server→client frames out to in-process subscribers.
// Each linked session and each campaign has its own topic.
package push

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/unclebandit/linkcast-backend/internal/model"
)

const defaultBuffer = 16

func SessionTopic(sessionID string) string { return "session:" + sessionID }
func CampaignTopic(campaignID int) string  { return "campaign:" + strconv.Itoa(campaignID) }

// Publisher is the write side used by sessions and the broadcast executor.
type Publisher interface {
	Publish(topic string, msg model.PushMessage)
}

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan model.PushMessage
	next uint64
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{subs: map[string]map[uint64]chan model.PushMessage{}, log: log}
}

// Subscribe returns a buffered stream for topic and a cancel func that
// unregisters and closes it. Cancel is safe to call more than once.
func (h *Hub) Subscribe(topic string) (<-chan model.PushMessage, func()) {
	ch := make(chan model.PushMessage, defaultBuffer)

	h.mu.Lock()
	h.next++
	id := h.next
	if h.subs[topic] == nil {
		h.subs[topic] = map[uint64]chan model.PushMessage{}
	}
	h.subs[topic][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if m := h.subs[topic]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, topic)
				}
			}
			close(ch)
		})
	}
}

// Publish never blocks: a subscriber whose buffer is full misses the frame.
func (h *Hub) Publish(topic string, msg model.PushMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[topic] {
		select {
		case ch <- msg:
		default:
			h.log.Warn().Str("topic", topic).Uint64("subscriber", id).Str("type", msg.Type).Msg("push buffer full; dropping frame")
		}
	}
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
