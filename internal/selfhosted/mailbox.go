package selfhosted

import (
	"sync"

	"github.com/lexiqai/tutor-client/internal/protocol"
)

// mailbox is an unbounded FIFO. put never blocks, so callers holding their
// own locks can hand messages over safely.
type mailbox struct {
	mu     sync.Mutex
	items  []protocol.Message
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) put(msg protocol.Message) {
	m.mu.Lock()
	m.items = append(m.items, msg)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}
