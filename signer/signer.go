package signer

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/deviceerror"
	"github.com/status-im/hwsigner-go/ledger"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/transport"
	"github.com/status-im/hwsigner-go/types"
)

var logger = log.New("package", "hwsigner-go/signer")

const (
	opProbe           = "probe"
	opGetAddress      = "get_address"
	opShowAddress     = "show_address"
	opGetVersion      = "get_version"
	opSignTransaction = "sign_transaction"
	opSignMessage     = "sign_message"
)

var (
	ErrBusy         = errors.New("another device operation is in progress")
	ErrNotConnected = fmt.Errorf("no device connected: %w", deviceerror.ErrTransportUnavailable)
	ErrNotReady     = errors.New("device is still being probed")
	ErrLocked       = errors.New("device is locked, unlock it and refresh")
	ErrClosed       = errors.New("signer closed")
)

// State is the coordinator's view of the device.
type State int

const (
	Idle State = iota
	Probing
	Ready
	Locked
	Errored
)

func (s State) String() string {
	switch s {
	case Probing:
		return "probing"
	case Ready:
		return "ready"
	case Locked:
		return "locked"
	case Errored:
		return "errored"
	default:
		return "idle"
	}
}

// Snapshot is the state exposed to callers. Warning and Error are mutually exclusive.
type Snapshot struct {
	State     State
	IsLoading bool
	IsLocked  bool
	Warning   string
	Error     string
	AppName   string
}

// Signer coordinates device operations for one chain at a time. It runs a single operation
// at a time and tracks whether the device is reachable, locked or failing.
type Signer struct {
	opts    options
	metrics *signerMetrics

	mu      sync.Mutex
	manager *ledger.Manager
	appName string
	connErr error
	state   State
	warning string
	errMsg  string
	busy    bool
	epoch   uint64
	timer   *time.Timer
	closed  bool
}

// New returns an idle Signer.
func New(opts ...Option) (*Signer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m, err := initMetrics(o.registerer)
	if err != nil {
		return nil, err
	}

	return &Signer{
		opts:    o,
		metrics: m,
		appName: registry.UnknownAppName,
	}, nil
}

// Connect binds the signer to a device channel and chain, replacing any previous binding,
// and schedules the reachability probe. A nil channel leaves the signer Idle and an
// unsupported chain leaves it Errored. The previous channel is closed only when ch replaces it.
func (s *Signer) Connect(ch transport.Channel, chain registry.Chain) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old := s.reset()
	s.appName = s.opts.registry.AppName(chain.Slug, chain.EVMCompatible)

	var result error
	switch m, err := ledger.NewManager(ch, s.opts.registry, chain, s.opts.factory); {
	case ch == nil:
		result = ErrNotConnected
		logger.Debug("no device channel", "chain", chain.Slug)
	case err != nil:
		e := deviceerror.New(err, s.appName)
		s.connErr = e
		s.state = Errored
		s.errMsg = e.Message
		result = e
		logger.Warn("cannot connect", "chain", chain.Slug, "err", err)
	default:
		s.manager = m
		s.scheduleProbe()
		logger.Debug("connected", "chain", chain.Slug, "app", s.appName)
	}

	snap := s.snapshot()
	s.mu.Unlock()

	if old != nil && sameChannel(old.Channel(), ch) {
		old.Release()
	} else if err := closeManager(old); err != nil {
		logger.Warn("closing previous device session failed", "err", err)
	}

	s.notify(snap)

	return result
}

// Refresh drops the current session and probes the device again.
func (s *Signer) Refresh() error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.busy:
		s.mu.Unlock()
		return ErrBusy
	case s.manager == nil && s.connErr != nil:
		err := s.connErr
		s.mu.Unlock()
		return err
	case s.manager == nil:
		s.mu.Unlock()
		return ErrNotConnected
	}

	s.manager.Invalidate()
	s.scheduleProbe()
	snap := s.snapshot()
	s.mu.Unlock()

	s.notify(snap)

	return nil
}

// Disconnect releases the device and returns to Idle. The signer can be connected again.
func (s *Signer) Disconnect() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	old := s.reset()
	snap := s.snapshot()
	s.mu.Unlock()

	s.notify(snap)

	return closeManager(old)
}

// Close releases the device for good. Results of operations still in flight are dropped.
func (s *Signer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	old := s.reset()
	s.closed = true
	snap := s.snapshot()
	s.mu.Unlock()

	s.notify(snap)

	return closeManager(old)
}

// Snapshot returns the current state.
func (s *Signer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshot()
}

// GetAddress returns the address of account accountIndex without asking for confirmation.
func (s *Signer) GetAddress(accountIndex uint32) (types.Address, error) {
	return s.GetAddressAt(ledger.Selector{}, ledger.Offsets{Account: accountIndex})
}

// GetAddressAt returns the address picked by sel and off without asking for confirmation.
func (s *Signer) GetAddressAt(sel ledger.Selector, off ledger.Offsets) (types.Address, error) {
	var addr types.Address
	err := s.run(opGetAddress, false, func(session ledger.Session) (err error) {
		addr, err = session.GetAddress(false, sel, off)
		return err
	})

	return addr, err
}

// ShowAddress displays the address on the device and waits for the user to confirm it.
func (s *Signer) ShowAddress(sel ledger.Selector, off ledger.Offsets) (types.Address, error) {
	var addr types.Address
	err := s.run(opShowAddress, true, func(session ledger.Session) (err error) {
		addr, err = session.GetAddress(true, sel, off)
		return err
	})

	return addr, err
}

// GetVersion returns the version of the app running on the device. A version reply
// flagging the device as locked moves the signer to Locked.
func (s *Signer) GetVersion() (types.Version, error) {
	var v types.Version
	err := s.run(opGetVersion, false, func(session ledger.Session) (err error) {
		if v, err = session.GetVersion(); err != nil {
			return err
		}

		if v.IsLocked {
			return apdu.NewErrBadResponse(apdu.SwLockedDevice, "")
		}

		return nil
	})

	return v, err
}

func (s *Signer) SignTransaction(payload []byte, off ledger.Offsets) (types.Signature, error) {
	return s.SignTransactionAt(ledger.Selector{}, payload, off)
}

// SignTransactionAt signs payload with the key picked by sel and off.
func (s *Signer) SignTransactionAt(sel ledger.Selector, payload []byte, off ledger.Offsets) (types.Signature, error) {
	var sig types.Signature
	err := s.run(opSignTransaction, true, func(session ledger.Session) (err error) {
		sig, err = session.SignTransaction(payload, sel, off)
		return err
	})

	return sig, err
}

func (s *Signer) SignMessage(payload []byte, off ledger.Offsets) (types.Signature, error) {
	return s.SignMessageAt(ledger.Selector{}, payload, off)
}

// SignMessageAt signs payload, wrapped in the chain's message envelope, with the key picked by sel and off.
func (s *Signer) SignMessageAt(sel ledger.Selector, payload []byte, off ledger.Offsets) (types.Signature, error) {
	var sig types.Signature
	err := s.run(opSignMessage, true, func(session ledger.Session) (err error) {
		sig, err = session.SignMessage(payload, sel, off)
		return err
	})

	return sig, err
}

// run forwards fn to the session and folds its outcome into the signer state. With
// warnOnReject set, a rejection by the user is reported as a warning.
func (s *Signer) run(op string, warnOnReject bool, fn func(ledger.Session) error) error {
	s.mu.Lock()
	if err := s.admit(); err != nil {
		s.mu.Unlock()
		s.metrics.observe(op, outcomeRejected)
		return err
	}

	s.busy = true
	m, epoch := s.manager, s.epoch
	s.mu.Unlock()

	err := m.With(fn)

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		closed := s.closed
		s.mu.Unlock()

		s.metrics.observe(op, outcomeDropped)
		logger.Debug("dropping result of stale operation", "operation", op, "err", err)

		if closed {
			return ErrClosed
		}

		return ErrNotConnected
	}

	s.busy = false

	var result error
	if err == nil {
		s.metrics.observe(op, outcomeSuccess)
		s.warning, s.errMsg = "", ""
		if s.state == Errored {
			s.state = Ready
		}
	} else {
		e := deviceerror.New(err, s.appName)
		if warnOnReject && e.Cause == deviceerror.UserRejected {
			e.Classified = e.Downgrade(deviceerror.Warning)
		}

		s.metrics.failure(op, e.Cause)
		s.apply(e)
		logger.Debug("operation failed", "operation", op, "session", m.SessionID(), "cause", e.Cause, "kind", e.Kind, "err", err)
		result = e
	}

	snap := s.snapshot()
	s.mu.Unlock()

	s.notify(snap)

	return result
}

func (s *Signer) apply(e *deviceerror.Error) {
	switch {
	case e.Cause == deviceerror.DeviceLocked:
		s.state = Locked
		s.warning, s.errMsg = "", e.Message
	case e.Kind == deviceerror.Warning:
		s.warning, s.errMsg = e.Message, ""
	case e.Kind == deviceerror.Silent:
		s.warning, s.errMsg = "", ""
	default:
		s.warning, s.errMsg = "", e.Message
	}
}

// admit must be called with s.mu held.
func (s *Signer) admit() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.busy:
		return ErrBusy
	}

	switch s.state {
	case Idle:
		return ErrNotConnected
	case Probing:
		return ErrNotReady
	case Locked:
		return ErrLocked
	}

	if s.manager == nil {
		return s.connErr
	}

	return nil
}

// scheduleProbe must be called with s.mu held.
func (s *Signer) scheduleProbe() {
	if s.timer != nil {
		s.timer.Stop()
	}

	s.epoch++
	epoch := s.epoch
	s.state = Probing
	s.warning, s.errMsg = "", ""
	s.timer = time.AfterFunc(s.opts.probeDelay, func() {
		s.probe(epoch)
	})
}

func (s *Signer) probe(epoch uint64) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		return
	}

	s.busy = true
	s.timer = nil
	m := s.manager
	s.mu.Unlock()

	err := m.With(func(session ledger.Session) error {
		_, err := session.GetAddress(false, ledger.Selector{}, ledger.Offsets{})
		return err
	})

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		s.metrics.observe(opProbe, outcomeDropped)
		return
	}

	s.busy = false

	if err == nil {
		s.metrics.observe(opProbe, outcomeSuccess)
		s.state = Ready
		s.warning, s.errMsg = "", ""
	} else {
		e := deviceerror.New(err, s.appName)
		s.metrics.failure(opProbe, e.Cause)
		s.state = Errored
		s.apply(e)
		logger.Debug("probe failed", "session", m.SessionID(), "cause", e.Cause, "err", err)
	}

	snap := s.snapshot()
	s.mu.Unlock()

	s.notify(snap)
}

// reset must be called with s.mu held. It returns the manager that was bound, if any.
func (s *Signer) reset() *ledger.Manager {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	s.epoch++
	s.busy = false
	s.connErr = nil
	s.state = Idle
	s.warning, s.errMsg = "", ""

	old := s.manager
	s.manager = nil

	return old
}

func (s *Signer) snapshot() Snapshot {
	return Snapshot{
		State:     s.state,
		IsLoading: s.state == Probing || s.busy,
		IsLocked:  s.state == Locked,
		Warning:   s.warning,
		Error:     s.errMsg,
		AppName:   s.appName,
	}
}

func (s *Signer) notify(snap Snapshot) {
	if s.opts.onChange != nil {
		s.opts.onChange(snap)
	}
}

// sameChannel reports whether a and b are the same link. Channels of non comparable types
// are never considered equal.
func sameChannel(a, b transport.Channel) bool {
	if a == nil || b == nil {
		return false
	}

	t := reflect.TypeOf(a)
	if t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}

	return a == b
}

func closeManager(m *ledger.Manager) error {
	if m == nil {
		return nil
	}

	return m.Close()
}
