package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// subscriber guards its channel with a liveness flag: Publish sends while
// holding mu, cancel flips closed under the same lock before the shared
// channel is closed, so a send can never race the close.
type subscriber struct {
	mu     sync.Mutex
	ch     chan *LocalMessage
	closed bool
}

func (s *subscriber) send(msg *LocalMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *subscriber) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// LocalPubSub is an in-process fan-out pub/sub implementation.
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufSize     int
}

// NewPubSub creates a new LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given channel.
// A subscriber whose buffer is full misses the message rather than
// blocking the publisher.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	subs := make([]*subscriber, len(ps.subscribers[channel]))
	copy(subs, ps.subscribers[channel])
	ps.mu.RUnlock()
	for _, s := range subs {
		s.send(msg)
	}
	return nil
}

// Subscribe returns a channel of messages for the given channels, and a cancel function.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)
	subs := make([]*subscriber, len(channels))

	ps.mu.Lock()
	for i, c := range channels {
		s := &subscriber{ch: ch}
		ps.subscribers[c] = append(ps.subscribers[c], s)
		subs[i] = s
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() { ps.unsubscribe(channels, subs, ch) })
	}

	return ch, cancel, nil
}

func (ps *LocalPubSub) unsubscribe(channels []string, subs []*subscriber, ch chan *LocalMessage) {
	ps.mu.Lock()
	for i, c := range channels {
		list := ps.subscribers[c]
		for j, sub := range list {
			if sub == subs[i] {
				ps.subscribers[c] = append(list[:j], list[j+1:]...)
				break
			}
		}
	}
	ps.mu.Unlock()
	// Every subscriber sharing ch must be marked dead before the close;
	// a Publish that already snapshotted the old list stops on the flag,
	// not the registry.
	for _, sub := range subs {
		sub.markClosed()
	}
	close(ch)
}
