package explore

import (
	"sync"

	"explorer/internal/models"
)

// Broker fans session updates out to subscribers. Publishing never blocks:
// a subscriber whose backlog is full misses the update.
type Broker struct {
	backlog int

	mu   sync.Mutex
	subs map[string]map[chan *models.Update]struct{}
}

func NewBroker(backlog int) *Broker {
	if backlog < 1 {
		backlog = 1
	}
	return &Broker{backlog: backlog, subs: make(map[string]map[chan *models.Update]struct{})}
}

// Subscribe returns a channel of updates for a session and a function that
// unsubscribes and closes it.
func (b *Broker) Subscribe(session string) (<-chan *models.Update, func()) {
	ch := make(chan *models.Update, b.backlog)

	b.mu.Lock()
	set, ok := b.subs[session]
	if !ok {
		set = make(map[chan *models.Update]struct{})
		b.subs[session] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[session]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, session)
				}
			}
		})
	}
}

// Publish delivers up to every subscriber of its session and reports how many received it.
func (b *Broker) Publish(up *models.Update) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sent := 0
	for ch := range b.subs[up.Session] {
		select {
		case ch <- up:
			sent++
		default:
		}
	}
	return sent
}

// Drop closes every subscription of a session.
func (b *Broker) Drop(session string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[session] {
		close(ch)
	}
	delete(b.subs, session)
}

// Subscribers counts open subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}
