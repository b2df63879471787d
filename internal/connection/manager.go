// Package connection owns the lifecycle of one node connection: connect,
// disconnect, unsolicited drops and recovery, and state notifications.
package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"substratescope/internal/chain"
	"substratescope/internal/endpoints"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Listener receives (connected, err) on every state transition. err is nil
// on success and carries the cause on failure or drop.
type Listener func(connected bool, err error)

// Dialer produces a live client for an endpoint URL. Injected so hosts and
// tests choose the transport; production wiring passes chain.Dial.
type Dialer func(ctx context.Context, url string) (chain.Client, error)

type Manager struct {
	dialer         Dialer
	log            *zap.Logger
	connectTimeout time.Duration

	mu        sync.Mutex
	state     State
	lastErr   error
	announced *bool // last announced connectedness, nil before first notify
	client    chain.Client
	endpoint  endpoints.Endpoint
	watchStop chan struct{}
	listeners map[string]Listener

	// deliverMu is held across a full notify so transitions decided in one
	// order cannot reach a listener in another.
	deliverMu sync.Mutex
}

func NewManager(dialer Dialer, connectTimeout time.Duration, log *zap.Logger) *Manager {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &Manager{
		dialer:         dialer,
		log:            log,
		connectTimeout: connectTimeout,
		listeners:      make(map[string]Listener),
	}
}

func (m *Manager) Subscribe(l Listener) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.listeners[id] = l
	return id
}

func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Client returns the live client, or nil when disconnected. Callers must not
// retain it across reconnects.
func (m *Manager) Client() chain.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) Endpoint() endpoints.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Connect tears down any existing client first, so calling it while already
// connected reconnects cleanly instead of erroring.
func (m *Manager) Connect(ctx context.Context, ep endpoints.Endpoint) error {
	m.teardown(nil, true)

	m.mu.Lock()
	m.state = StateConnecting
	m.endpoint = ep
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	client, err := m.dialer(dialCtx, ep.URL)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", chain.ErrConnectFailed, ep.URL, err)
		m.mu.Lock()
		m.state = StateDisconnected
		m.lastErr = err
		m.mu.Unlock()
		m.notify(false, err)
		return err
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.client = client
	m.state = StateConnected
	m.lastErr = nil
	m.watchStop = stop
	m.mu.Unlock()

	go m.watch(client, stop)
	m.notify(true, nil)
	m.log.Info("connected", zap.String("endpoint", ep.ID), zap.String("url", ep.URL))
	return nil
}

// Disconnect is idempotent: calling it while already disconnected produces
// no notification.
func (m *Manager) Disconnect() {
	m.teardown(nil, true)
}

// watch turns the client's low-level connectivity signals into manager
// transitions. An unsolicited drop is treated exactly like an explicit
// disconnect; on a reported recovery the node is pinged again before
// re-announcing, so flapping links do not flap the announcements.
func (m *Manager) watch(client chain.Client, stop chan struct{}) {
	ctx := context.Background()
	events, err := client.WatchConnectivity(ctx)
	if err != nil {
		m.log.Warn("connectivity watch unavailable", zap.Error(err))
		return
	}
	for {
		select {
		case <-stop:
			return
		case up, ok := <-events:
			if !ok {
				return
			}
			if !up {
				m.mu.Lock()
				stale := m.client != client
				if !stale {
					m.state = StateDisconnected
					m.lastErr = chain.ErrNotConnected
				}
				m.mu.Unlock()
				if !stale {
					m.log.Warn("connection dropped", zap.String("endpoint", m.Endpoint().ID))
					m.notify(false, chain.ErrNotConnected)
				}
				continue
			}

			// Recovery: re-verify readiness before announcing.
			pingCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
			pingErr := client.Ping(pingCtx)
			cancel()
			if pingErr != nil {
				continue
			}
			m.mu.Lock()
			stale := m.client != client
			if !stale {
				m.state = StateConnected
				m.lastErr = nil
			}
			m.mu.Unlock()
			if !stale {
				m.log.Info("connection recovered", zap.String("endpoint", m.Endpoint().ID))
				m.notify(true, nil)
			}
		}
	}
}

func (m *Manager) teardown(cause error, announce bool) {
	m.mu.Lock()
	client := m.client
	stop := m.watchStop
	wasConnected := m.state != StateDisconnected
	m.client = nil
	m.watchStop = nil
	m.state = StateDisconnected
	m.lastErr = cause
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if client != nil {
		client.Close()
	}
	if announce && wasConnected {
		m.notify(false, cause)
	}
}

// notify delivers a transition to every listener. Consecutive equal states
// are collapsed so each listener sees a strictly ordered sequence; dedupe
// decision and delivery happen under one lock so a drop from the watch
// goroutine and a connect from a caller cannot interleave at a listener.
// Listeners must not call back into Connect or Disconnect.
func (m *Manager) notify(connected bool, err error) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.announced != nil && *m.announced == connected {
		m.mu.Unlock()
		return
	}
	v := connected
	m.announced = &v
	targets := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		targets = append(targets, l)
	}
	m.mu.Unlock()

	for _, l := range targets {
		l(connected, err)
	}
}
