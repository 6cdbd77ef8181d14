package refresh

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Monitor runs one sign-out watcher per authenticated identity a service has
// seen. Watch is idempotent per email; once the watcher observes the flag
// the identity is evicted, so a later sign-in is watched afresh.
type Monitor struct {
	authorityURL string
	interval     time.Duration
	client       *http.Client
	onSignOut    func(email string)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	watching map[string]struct{}
}

// NewMonitor creates a Monitor polling the authority at authorityURL.
// onSignOut runs once per flagged identity.
func NewMonitor(authorityURL string, interval time.Duration, onSignOut func(email string)) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		authorityURL: authorityURL,
		interval:     interval,
		onSignOut:    onSignOut,
		ctx:          ctx,
		cancel:       cancel,
		watching:     make(map[string]struct{}),
	}
}

// WithClient overrides the HTTP client handed to spawned watchers. Test hook.
func (m *Monitor) WithClient(client *http.Client) *Monitor {
	m.client = client
	return m
}

// Watch starts a sign-out watcher for email unless one is already running.
func (m *Monitor) Watch(email string) {
	if email == "" {
		return
	}

	m.mu.Lock()
	if _, ok := m.watching[email]; ok {
		m.mu.Unlock()
		return
	}
	m.watching[email] = struct{}{}
	m.mu.Unlock()

	w := NewWatcher(m.authorityURL, email, m.interval, func() {
		if m.onSignOut != nil {
			m.onSignOut(email)
		}
	})
	if m.client != nil {
		w.WithClient(m.client)
	}

	go func() {
		w.Run(m.ctx)
		m.mu.Lock()
		delete(m.watching, email)
		m.mu.Unlock()
	}()
}

// Watching returns the number of identities currently being watched.
func (m *Monitor) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watching)
}

// Stop cancels every running watcher.
func (m *Monitor) Stop() {
	m.cancel()
}
