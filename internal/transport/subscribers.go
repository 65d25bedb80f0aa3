package transport

import (
	"reflect"
	"sync"
)

// Subscriber receives every inbound output message.
type Subscriber interface {
	HandleOutput(text string)
}

type funcSubscriber struct {
	fn func(string)
}

func (f *funcSubscriber) HandleOutput(text string) {
	f.fn(text)
}

// Subscribers is an identity-keyed set of output subscribers. Registering
// the same subscriber twice keeps one entry, so each message reaches it once.
type Subscribers struct {
	mu    sync.RWMutex
	order []Subscriber
	index map[Subscriber]struct{}
}

func NewSubscribers() *Subscribers {
	return &Subscribers{
		index: make(map[Subscriber]struct{}),
	}
}

// Subscribe registers sub and returns its disposer. Subscribers whose
// dynamic type is not comparable are always treated as distinct.
func (s *Subscribers) Subscribe(sub Subscriber) func() {
	if sub == nil {
		return func() {}
	}
	if !reflect.TypeOf(sub).Comparable() {
		sub = &funcSubscriber{fn: sub.HandleOutput}
	}
	s.mu.Lock()
	if _, ok := s.index[sub]; !ok {
		s.index[sub] = struct{}{}
		s.order = append(s.order, sub)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(sub) })
	}
}

// SubscribeFunc registers a callback. Every call is its own registration.
func (s *Subscribers) SubscribeFunc(fn func(string)) func() {
	if fn == nil {
		return func() {}
	}
	return s.Subscribe(&funcSubscriber{fn: fn})
}

func (s *Subscribers) Publish(text string) {
	s.mu.RLock()
	targets := make([]Subscriber, len(s.order))
	copy(targets, s.order)
	s.mu.RUnlock()

	for _, sub := range targets {
		sub.HandleOutput(text)
	}
}

func (s *Subscribers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Subscribers) remove(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[sub]; !ok {
		return
	}
	delete(s.index, sub)
	for i, existing := range s.order {
		if existing == sub {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
