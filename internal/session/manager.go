// Package session owns live client connections and the two
// long-lived goroutines that accept and dispatch on them: a listener
// goroutine and a dispatcher goroutine, wired together with a
// wake channel the way the teacher's hal/internal/core event loop
// wires a poller's wake channel into its own select.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"cardtelemetryd/internal/transport"
)

// Session is one live connection: its endpoint and whether a request
// is currently being served on it. Exactly one request is ever
// in-flight per session; while InProgress, the session is absent from
// the dispatcher's poll set.
type Session struct {
	EP         *transport.Endpoint
	InProgress bool
	Closed     bool
}

// MaxSessions bounds how many simultaneous connections the listener
// accepts, matching the original's max_connections=32.
const MaxSessions = 32

// Handler processes one ready session's next request. Implementations
// live in internal/handler; Manager only needs this much of the
// surface to avoid an import cycle.
type Handler func(ctx context.Context, sess *Session)

// Manager tracks sessions and runs the listener/dispatcher loops.
type Manager struct {
	log *logrus.Logger

	mu       sync.Mutex
	sessions map[*transport.Endpoint]*Session
	wake     chan struct{}

	listenerEP *transport.Endpoint
	handle     Handler
	pool       *WorkerPool
}

// NewManager builds a session Manager bound to listenerEP, dispatching
// ready sessions through handle on the given worker pool.
func NewManager(log *logrus.Logger, listenerEP *transport.Endpoint, pool *WorkerPool, handle Handler) *Manager {
	return &Manager{
		log:        log,
		sessions:   make(map[*transport.Endpoint]*Session),
		wake:       make(chan struct{}, 1),
		listenerEP: listenerEP,
		handle:     handle,
		pool:       pool,
	}
}

func (m *Manager) add(ep *transport.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) >= MaxSessions {
		_ = ep.Close()
		return
	}
	m.sessions[ep] = &Session{EP: ep}
	m.notifyLocked()
}

func (m *Manager) notifyLocked() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// RunListener accepts new connections until ctx is done, matching the
// listener loop's poll(listener_fd, 1000ms)-on-timeout-continue shape.
func (m *Manager) RunListener(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ready, err := transport.SelectRead([]*transport.Endpoint{m.listenerEP}, time.Second)
		if err != nil {
			m.log.WithError(err).Warn("listener: poll error, resetting listener")
			if rerr := m.listenerEP.Reset(); rerr != nil {
				m.log.WithError(rerr).Error("listener: reset failed")
			}
			continue
		}
		if len(ready) == 0 {
			continue
		}
		ep, err := m.listenerEP.Accept(false)
		if err != nil {
			m.log.WithError(err).Warn("listener: accept failed")
			continue
		}
		if ep == nil {
			continue
		}
		m.log.WithField("peer", ep.Peer()).Debug("listener: accepted session")
		m.add(ep)
	}
}

// RunDispatcher drains ready sessions into the worker pool until ctx
// is done, matching the dispatcher loop in spec: prune dead sessions,
// wait for at least one live session, select_read with a 1s timeout,
// skip in-progress sessions, hand the rest to the pool.
func (m *Manager) RunDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.removeInvalidSessions()

		epts := m.liveEndpoints()
		if len(epts) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-m.wake:
			case <-time.After(time.Second):
			}
			continue
		}

		ready, err := transport.SelectRead(epts, time.Second)
		if err != nil {
			m.log.WithError(err).Warn("dispatcher: poll error")
			continue
		}
		for _, r := range ready {
			if r.HupOrErr {
				m.drop(r.Endpoint)
				continue
			}
			m.mu.Lock()
			sess, ok := m.sessions[r.Endpoint]
			if !ok || sess.InProgress {
				m.mu.Unlock()
				continue
			}
			sess.InProgress = true
			m.mu.Unlock()

			m.pool.Submit(func() {
				defer m.release(sess)
				m.handle(ctx, sess)
			})
		}
	}
}

func (m *Manager) release(sess *Session) {
	m.mu.Lock()
	if sess.Closed {
		delete(m.sessions, sess.EP)
		m.mu.Unlock()
		_ = sess.EP.Close()
		return
	}
	sess.InProgress = false
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Manager) liveEndpoints() []*transport.Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*transport.Endpoint, 0, len(m.sessions))
	for ep, sess := range m.sessions {
		if sess.InProgress {
			continue
		}
		out = append(out, ep)
	}
	return out
}

func (m *Manager) removeInvalidSessions() {
	m.mu.Lock()
	epts := make([]*transport.Endpoint, 0, len(m.sessions))
	for ep, sess := range m.sessions {
		if !sess.InProgress {
			epts = append(epts, ep)
		}
	}
	m.mu.Unlock()
	if len(epts) == 0 {
		return
	}
	ready, err := transport.SelectRead(epts, 0)
	if err != nil {
		return
	}
	for _, r := range ready {
		if r.HupOrErr {
			m.drop(r.Endpoint)
		}
	}
}

func (m *Manager) drop(ep *transport.Endpoint) {
	m.mu.Lock()
	delete(m.sessions, ep)
	m.mu.Unlock()
	_ = ep.Close()
}

// Count reports the number of live sessions, for diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
