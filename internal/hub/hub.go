// Package hub: реестр комнат: group id -> множество живых подписчиков.
// Живёт только в памяти и собирается заново при старте.
package hub

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/cwrk-planet/aidchat/internal/domain"
)

// Sink: получатель событий комнаты. Deliver не должен блокироваться.
type Sink interface {
	SinkID() string
	Deliver(m domain.Message) error
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.GroupID]map[string]*Subscription // groupID -> sinkID -> подписка
}

func New() *Registry {
	return &Registry{rooms: make(map[domain.GroupID]map[string]*Subscription)}
}

// Subscription: хэндл подписки; Cancel идемпотентен.
type Subscription struct {
	reg   *Registry
	topic domain.GroupID
	sink  Sink
	once  sync.Once
}

func (s *Subscription) Topic() domain.GroupID { return s.topic }

func (s *Subscription) Cancel() {
	s.once.Do(func() { s.reg.remove(s) })
}

// Subscribe добавляет sink в комнату. Повторный вызов возвращает ту же подписку.
// Права здесь не проверяются.
func (r *Registry) Subscribe(topic domain.GroupID, sink Sink) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[topic]
	if !ok {
		subs = make(map[string]*Subscription)
		r.rooms[topic] = subs
	}
	if sub, ok := subs[sink.SinkID()]; ok {
		return sub
	}

	sub := &Subscription{reg: r, topic: topic, sink: sink}
	subs[sink.SinkID()] = sub
	return sub
}

// Unsubscribe: no-op, если sink не подписан.
func (r *Registry) Unsubscribe(topic domain.GroupID, sinkID string) {
	r.mu.RLock()
	sub, ok := r.rooms[topic][sinkID]
	r.mu.RUnlock()

	if ok {
		sub.Cancel()
	}
}

func (r *Registry) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[sub.topic]
	if !ok {
		return
	}
	if cur, ok := subs[sub.sink.SinkID()]; ok && cur == sub {
		delete(subs, sub.sink.SinkID())
	}
	if len(subs) == 0 {
		delete(r.rooms, sub.topic)
	}
}

// Broadcast доставляет сообщение всем подписчикам комнаты.
// Ошибка одного получателя не прерывает рассылку, только логируется.
func (r *Registry) Broadcast(topic domain.GroupID, m domain.Message) (delivered int) {
	r.mu.RLock()
	sinks := make([]Sink, 0, len(r.rooms[topic]))
	for _, sub := range r.rooms[topic] {
		sinks = append(sinks, sub.sink)
	}
	r.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(m); err != nil {
			slog.Warn("room broadcast failed",
				slog.Int64("group_id", int64(topic)),
				slog.String("sink", s.SinkID()),
				slog.Int64("message_id", int64(m.ID)),
				slog.Any("err", err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

// Subscribers: отсортированные id подписчиков комнаты.
func (r *Registry) Subscribers(topic domain.GroupID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms[topic]))
	for id := range r.rooms[topic] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}
