package payment

import "sync"

// notifier wakes up whoever waits on an attempt.
// Waiters are keyed by order id so attempts never see each other's events.
type notifier struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

func newNotifier() *notifier {
	return &notifier{waiters: make(map[string]map[chan struct{}]struct{})}
}

// subscribe returns a channel closed on the next notify for orderID, and a func to drop it.
func (n *notifier) subscribe(orderID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	n.mu.Lock()
	if n.waiters[orderID] == nil {
		n.waiters[orderID] = make(map[chan struct{}]struct{})
	}
	n.waiters[orderID][ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if ws, ok := n.waiters[orderID]; ok {
			delete(ws, ch)
			if len(ws) == 0 {
				delete(n.waiters, orderID)
			}
		}
	}
}

func (n *notifier) notify(orderID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.waiters[orderID] {
		close(ch)
	}
	delete(n.waiters, orderID)
}
