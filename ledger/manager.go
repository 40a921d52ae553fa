package ledger

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/status-im/hwsigner-go/deviceerror"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
)

var ErrManagerClosed = errors.New("session manager closed")

// Factory builds the Session for a channel and network. New is the default.
type Factory func(c transport.Channel, network registry.Network) (Session, error)

// Manager owns at most one live Session for a fixed channel and chain. The session is built
// on first use and dropped after any failed operation, so the next call starts from a fresh one.
type Manager struct {
	c       transport.Channel
	network registry.Network
	factory Factory

	mu            sync.Mutex
	session       Session
	sessionID     string
	generation    uint64
	constructions int
	closed        bool
	logger        log.Logger
	sessionLogger log.Logger
}

// NewManager resolves chain against reg. It fails without touching the channel when no app
// serves the chain or when c is nil.
func NewManager(c transport.Channel, reg *registry.Registry, chain registry.Chain, factory Factory) (*Manager, error) {
	if reg == nil {
		reg = registry.Default()
	}

	network, err := reg.Resolve(chain)
	if err != nil {
		return nil, err
	}

	if c == nil {
		return nil, deviceerror.ErrTransportUnavailable
	}

	if factory == nil {
		factory = New
	}

	return &Manager{
		c:       c,
		network: network,
		factory: factory,
		logger:  logger.New("chain", chain.Slug, "app", network.AppName),
	}, nil
}

// Channel returns the channel the manager was bound to.
func (m *Manager) Channel() transport.Channel {
	return m.c
}

// SessionID returns the id of the most recently built session, or "" before the first one.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sessionID
}

// Network returns the network resolved for the manager's chain.
func (m *Manager) Network() registry.Network {
	return m.network
}

// AppName returns the name of the app expected on the device.
func (m *Manager) AppName() string {
	return m.network.AppName
}

// Constructions returns how many sessions have been built so far.
func (m *Manager) Constructions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.constructions
}

// Acquire returns the live session, building it if needed.
func (m *Manager) Acquire() (Session, error) {
	s, _, err := m.acquire()
	return s, err
}

func (m *Manager) acquire() (Session, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, ErrManagerClosed
	}

	if m.session != nil {
		return m.session, m.generation, nil
	}

	if err := m.build(); err != nil {
		return nil, 0, err
	}

	return m.session, m.generation, nil
}

func (m *Manager) build() error {
	s, err := m.factory(m.c, m.network)
	if err != nil {
		return err
	}

	m.session = s
	m.sessionID = uuid.New().String()
	m.sessionLogger = m.logger.New("session", m.sessionID)
	m.generation++
	m.constructions++
	m.sessionLogger.Debug("session created", "generation", m.generation)

	return nil
}

// With runs fn against the live session. Any error returned by fn invalidates that session.
func (m *Manager) With(fn func(Session) error) error {
	s, gen, err := m.acquire()
	if err != nil {
		return err
	}

	if err = fn(s); err != nil {
		m.invalidate(gen, err)
	}

	return err
}

// Invalidate drops the live session. The channel stays open.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.sessionLogger.Debug("session invalidated")
	}

	m.session = nil
}

func (m *Manager) invalidate(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a newer session may already have replaced the one that failed
	if m.session == nil || m.generation != gen {
		return
	}

	m.sessionLogger.Debug("session invalidated", "generation", gen, "err", cause)
	m.session = nil
}

// Close disconnects the device. A session is built first if none is live, as
// only a session can release the device link. Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	if m.session == nil {
		if err := m.build(); err != nil {
			m.logger.Warn("building session for teardown failed, closing channel", "err", err)
			return m.c.Close()
		}
	}

	s := m.session
	m.session = nil
	m.sessionLogger.Debug("disconnecting session")

	return s.Disconnect()
}

// Release retires the manager without disconnecting, so another manager can take over the
// channel. The live session is dropped and later calls fail with ErrManagerClosed.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	if m.session != nil {
		m.sessionLogger.Debug("session released")
		m.session = nil
	}
}
