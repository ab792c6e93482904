package notify

import (
	"context"
	"sync"

	"github.com/MrEthical07/identityflow"
)

// ChannelSender queues notifications on a buffered channel. Send blocks
// while the buffer is full until ctx is done or the sender is closed.
type ChannelSender struct {
	ch        chan Message
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
}

func NewChannelSender(buffer int) *ChannelSender {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSender{
		ch:   make(chan Message, buffer),
		done: make(chan struct{}),
	}
}

// C returns the receive side of the queue. It is closed by Close.
func (s *ChannelSender) C() <-chan Message {
	return s.ch
}

func (s *ChannelSender) Send(ctx context.Context, user identityflow.User, templateKey string, payload map[string]string) error {
	// The lock only orders registration against Close; it is released before
	// the send can block.
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrSenderClosed
	}
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	select {
	case s.ch <- newMessage(user, templateKey, payload):
		return nil
	case <-s.done:
		return ErrSenderClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases blocked senders with ErrSenderClosed, then closes the
// channel returned by C. Sends after Close fail with ErrSenderClosed.
func (s *ChannelSender) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.inflight.Wait()
		close(s.ch)
	})
}
