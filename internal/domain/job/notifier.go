package job

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrWaiterRequired indicates a notifier cannot be constructed without a waiter.
var ErrWaiterRequired = errors.New("notifier waiter is required")

// Waiter blocks until storage reports a new job on queueName or ctx ends.
type Waiter interface {
	WaitForNotification(ctx context.Context, queueName string) error
}

// Notifier fans out "job added" wakeups to queue consumers.
type Notifier interface {
	Subscribe(queueName string) (func(), <-chan struct{})
	StopAll()
}

// NotifierOptions configure the behaviour of the default notifier implementation.
type NotifierOptions struct {
	Waiter     Waiter
	WaitWindow time.Duration // Optional; defaults to 1m
	Backoff    time.Duration // Optional; defaults to 250ms
}

// DefaultNotifier runs one wait loop per subscribed queue and signals every subscriber
// after each wait returns. Signals coalesce: a subscriber sees at most one pending wakeup.
type DefaultNotifier struct {
	waiter     Waiter
	waitWindow time.Duration
	backoff    time.Duration

	mu        sync.Mutex
	subs      map[string]map[chan struct{}]struct{}
	listeners map[string]context.CancelFunc
}

// NewNotifier constructs the default notifier implementation.
func NewNotifier(opts NotifierOptions) (*DefaultNotifier, error) {
	if opts.Waiter == nil {
		return nil, ErrWaiterRequired
	}

	waitWindow := opts.WaitWindow
	if waitWindow <= 0 {
		waitWindow = time.Minute
	}

	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	return &DefaultNotifier{
		waiter:     opts.Waiter,
		waitWindow: waitWindow,
		backoff:    backoff,
		subs:       make(map[string]map[chan struct{}]struct{}),
		listeners:  make(map[string]context.CancelFunc),
	}, nil
}

// Subscribe registers for wakeups on queueName. The returned func unsubscribes and closes the channel.
func (n *DefaultNotifier) Subscribe(queueName string) (func(), <-chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[queueName]; !ok {
		ctx, cancel := context.WithCancel(context.Background())
		n.listeners[queueName] = cancel
		go n.listenLoop(ctx, queueName)
	}

	ch := make(chan struct{}, 1)
	if n.subs[queueName] == nil {
		n.subs[queueName] = make(map[chan struct{}]struct{})
	}
	n.subs[queueName][ch] = struct{}{}

	unsub := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[queueName]
		if _, ok := subscribers[ch]; !ok {
			return
		}
		delete(subscribers, ch)
		drainAndClose(ch)
		if len(subscribers) == 0 {
			n.stopListener(queueName)
			delete(n.subs, queueName)
		}
	}

	return unsub, ch
}

// StopAll ends every wait loop and closes every subscriber channel.
func (n *DefaultNotifier) StopAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for queueName, cancel := range n.listeners {
		cancel()
		delete(n.listeners, queueName)
	}
	for queueName, subscribers := range n.subs {
		for ch := range subscribers {
			drainAndClose(ch)
		}
		delete(n.subs, queueName)
	}
}

func (n *DefaultNotifier) stopListener(queueName string) {
	cancel, ok := n.listeners[queueName]
	if !ok {
		return
	}
	cancel()
	delete(n.listeners, queueName)
}

func (n *DefaultNotifier) listenLoop(ctx context.Context, queueName string) {
	for ctx.Err() == nil {
		waitCtx, cancel := context.WithTimeout(ctx, n.waitWindow)
		err := n.waiter.WaitForNotification(waitCtx, queueName)
		cancel()

		n.broadcast(queueName)

		if err != nil && ctx.Err() == nil {
			timer := time.NewTimer(n.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

func (n *DefaultNotifier) broadcast(queueName string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[queueName] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// drainAndClose removes any buffered notifications before closing the channel so
// receivers observe a closed channel immediately.
func drainAndClose(ch chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}

var _ Notifier = (*DefaultNotifier)(nil)
