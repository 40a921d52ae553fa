package signer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/status-im/hwsigner-go/apdu"
	"github.com/status-im/hwsigner-go/deviceerror"
	"github.com/status-im/hwsigner-go/ledger"
	"github.com/status-im/hwsigner-go/registry"
	"github.com/status-im/hwsigner-go/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var polkadot = registry.Chain{Slug: "polkadot"}

func newTestSigner(t *testing.T, d *fakeDevice, opts ...Option) *Signer {
	opts = append([]Option{WithProbeDelay(10 * time.Millisecond), WithFactory(d.factory)}, opts...)
	s, err := New(opts...)
	require.NoError(t, err)

	return s
}

func waitForState(t *testing.T, s *Signer, state State) {
	assert.Eventually(t, func() bool {
		return s.Snapshot().State == state
	}, waitFor, tick)
}

func connectReady(t *testing.T, s *Signer) *fakeChannel {
	ch := &fakeChannel{}
	require.NoError(t, s.Connect(ch, polkadot))
	waitForState(t, s, Ready)

	return ch
}

func lockedErr() error {
	return apdu.NewErrBadResponse(apdu.SwDeviceLocked, "")
}

func TestProbeReady(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, registry.UnknownAppName, snap.AppName)

	require.NoError(t, s.Connect(&fakeChannel{}, polkadot))

	snap = s.Snapshot()
	assert.Equal(t, Probing, snap.State)
	assert.True(t, snap.IsLoading)
	assert.Equal(t, "Polkadot", snap.AppName)

	waitForState(t, s, Ready)

	snap = s.Snapshot()
	assert.False(t, snap.IsLoading)
	assert.False(t, snap.IsLocked)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Warning)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.probes }))
}

func TestProbeIsDebounced(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d, WithProbeDelay(50*time.Millisecond))

	require.NoError(t, s.Connect(&fakeChannel{}, polkadot))
	require.NoError(t, s.Refresh())
	require.NoError(t, s.Refresh())

	waitForState(t, s, Ready)
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.probes }))
}

func TestNotReadyWhileProbing(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d, WithProbeDelay(time.Hour))

	require.NoError(t, s.Connect(&fakeChannel{}, polkadot))

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	assert.Equal(t, ErrNotReady, err)
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.signCalls }))
}

func TestNotConnected(t *testing.T) {
	s := newTestSigner(t, &fakeDevice{})

	_, err := s.GetAddress(0)
	assert.Equal(t, ErrNotConnected, err)
	assert.True(t, errors.Is(err, deviceerror.ErrTransportUnavailable))
	assert.Equal(t, ErrNotConnected, s.Refresh())
}

func TestProbeLockedRejectsUntilRefresh(t *testing.T) {
	d := &fakeDevice{addressErr: lockedErr()}
	s := newTestSigner(t, d)

	require.NoError(t, s.Connect(&fakeChannel{}, polkadot))
	waitForState(t, s, Locked)

	snap := s.Snapshot()
	assert.True(t, snap.IsLocked)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, "Your Ledger device is locked. Unlock it and refresh", snap.Error)

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	assert.Equal(t, ErrLocked, err)
	_, err = s.SignMessage([]byte{1}, ledger.Offsets{})
	assert.Equal(t, ErrLocked, err)
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.signCalls }))

	d.set(func(d *fakeDevice) { d.addressErr = nil })
	require.NoError(t, s.Refresh())
	waitForState(t, s, Ready)

	_, err = s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.signCalls }))
}

func TestProbeFailureErrored(t *testing.T) {
	d := &fakeDevice{addressErr: apdu.NewErrBadResponse(apdu.SwAppNotOpen, "")}
	s := newTestSigner(t, d)

	require.NoError(t, s.Connect(&fakeChannel{}, polkadot))
	waitForState(t, s, Errored)

	snap := s.Snapshot()
	assert.False(t, snap.IsLocked)
	assert.Equal(t, "Please open the Polkadot app on your Ledger device", snap.Error)

	// operations are still forwarded; a success means the device is usable again
	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.NoError(t, err)

	snap = s.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Empty(t, snap.Error)
}

func TestOperationLockMovesToLocked(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	d.set(func(d *fakeDevice) { d.opErr = lockedErr() })

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	var e *deviceerror.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, deviceerror.DeviceLocked, e.Cause)
	assert.True(t, deviceerror.IsLocked(err))

	assert.Equal(t, Locked, s.Snapshot().State)

	_, err = s.SignMessage([]byte{1}, ledger.Offsets{})
	assert.Equal(t, ErrLocked, err)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.signCalls }))
}

func TestUserRejectionIsWarning(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	d.set(func(d *fakeDevice) { d.opErr = apdu.NewErrBadResponse(apdu.SwConditionsNotSatisfied, "") })

	_, err := s.SignMessage([]byte("hello"), ledger.Offsets{})
	var e *deviceerror.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, deviceerror.UserRejected, e.Cause)
	assert.Equal(t, deviceerror.Warning, e.Kind)

	snap := s.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, "The request was rejected on your Ledger device", snap.Warning)
	assert.Empty(t, snap.Error)

	// a rejected plain address lookup is an error
	d.set(func(d *fakeDevice) { d.addressErr = apdu.NewErrBadResponse(apdu.SwConditionsNotSatisfied, "") })

	_, err = s.GetAddress(0)
	require.True(t, errors.As(err, &e))
	assert.Equal(t, deviceerror.Fatal, e.Kind)

	snap = s.Snapshot()
	assert.Empty(t, snap.Warning)
	assert.Equal(t, "The request was rejected on your Ledger device", snap.Error)
}

func TestFatalErrorKeepsReady(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	d.set(func(d *fakeDevice) { d.opErr = errors.New("transport dropped") })

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.Error(t, err)
	assert.Equal(t, "transport dropped", err.Error())

	snap := s.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, "transport dropped", snap.Error)

	d.set(func(d *fakeDevice) { d.opErr = nil })

	_, err = s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot().Error)

	// the failed operation dropped the probe session, the next one built a fresh session
	assert.Equal(t, 2, d.get(func(d *fakeDevice) int { return d.sessions }))
}

func TestBusyRejectsSecondOperation(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	release := make(chan struct{})
	d.set(func(d *fakeDevice) { d.release = release })

	done := make(chan error, 1)
	go func() {
		_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
		done <- err
	}()

	assert.Eventually(t, func() bool {
		return d.get(func(d *fakeDevice) int { return d.signCalls }) == 1
	}, waitFor, tick)

	assert.True(t, s.Snapshot().IsLoading)

	_, err := s.SignMessage([]byte{2}, ledger.Offsets{})
	assert.Equal(t, ErrBusy, err)
	_, err = s.GetAddress(0)
	assert.Equal(t, ErrBusy, err)
	assert.Equal(t, ErrBusy, s.Refresh())

	close(release)
	assert.NoError(t, <-done)
	assert.False(t, s.Snapshot().IsLoading)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.signCalls }))
}

func TestCloseDisconnectsOnce(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	ch := connectReady(t, s)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.disconnects }))
	assert.Equal(t, 1, ch.closeCount())

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, s.Connect(&fakeChannel{}, polkadot))
	assert.Equal(t, ErrClosed, s.Refresh())
	assert.Equal(t, Idle, s.Snapshot().State)
}

func TestCloseBeforeProbe(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d, WithProbeDelay(20*time.Millisecond))

	ch := &fakeChannel{}
	require.NoError(t, s.Connect(ch, polkadot))
	require.NoError(t, s.Close())

	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.disconnects }))
	assert.Equal(t, 1, ch.closeCount())
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.probes }))
}

func TestCloseDropsLateResult(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	release := make(chan struct{})
	d.set(func(d *fakeDevice) {
		d.release = release
		d.opErr = lockedErr()
	})

	done := make(chan error, 1)
	go func() {
		_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
		done <- err
	}()

	assert.Eventually(t, func() bool {
		return d.get(func(d *fakeDevice) int { return d.signCalls }) == 1
	}, waitFor, tick)

	require.NoError(t, s.Close())
	close(release)

	assert.Equal(t, ErrClosed, <-done)
	assert.Equal(t, Idle, s.Snapshot().State)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.disconnects }))
}

func TestDisconnectReturnsToIdle(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	ch := connectReady(t, s)

	require.NoError(t, s.Disconnect())
	assert.Equal(t, Idle, s.Snapshot().State)
	assert.Equal(t, 1, d.get(func(d *fakeDevice) int { return d.disconnects }))
	assert.Equal(t, 1, ch.closeCount())

	_, err := s.GetAddress(0)
	assert.Equal(t, ErrNotConnected, err)

	// the signer can be bound again
	connectReady(t, s)
	assert.Equal(t, 2, d.get(func(d *fakeDevice) int { return d.sessions }))
}

func TestSwitchChainOnSameChannel(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	ch := connectReady(t, s)

	require.NoError(t, s.Connect(ch, registry.Chain{Slug: "kusama"}))
	waitForState(t, s, Ready)

	snap := s.Snapshot()
	assert.Equal(t, "Kusama", snap.AppName)
	assert.Empty(t, snap.Error)
	assert.Equal(t, 0, ch.closeCount())
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.disconnects }))

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.NoError(t, err)
	assert.Equal(t, 0, ch.closeCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, ch.closeCount())
}

func TestConnectNewChannelClosesPrevious(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	first := connectReady(t, s)

	second := &fakeChannel{}
	require.NoError(t, s.Connect(second, polkadot))
	assert.Equal(t, 1, first.closeCount())

	waitForState(t, s, Ready)
	assert.Equal(t, 0, second.closeCount())

	require.NoError(t, s.Close())
	assert.Equal(t, 1, first.closeCount())
	assert.Equal(t, 1, second.closeCount())
}

func TestConnectWithoutChannel(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)

	err := s.Connect(nil, polkadot)
	assert.Equal(t, ErrNotConnected, err)

	snap := s.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Error)
	assert.Equal(t, "Polkadot", snap.AppName)

	_, err = s.GetAddress(0)
	assert.Equal(t, ErrNotConnected, err)
	assert.Equal(t, ErrNotConnected, s.Refresh())
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.sessions }))

	// dropping the channel of a bound signer releases it
	ch := connectReady(t, s)
	assert.Equal(t, ErrNotConnected, s.Connect(nil, polkadot))
	assert.Equal(t, Idle, s.Snapshot().State)
	assert.Equal(t, 1, ch.closeCount())
}

func TestUnsupportedChain(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)

	err := s.Connect(&fakeChannel{}, registry.Chain{Slug: "bitcoin"})
	var e *deviceerror.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, deviceerror.UnsupportedChain, e.Cause)
	assert.True(t, errors.Is(err, deviceerror.ErrUnsupportedChain))

	snap := s.Snapshot()
	assert.Equal(t, Errored, snap.State)
	assert.Equal(t, registry.UnknownAppName, snap.AppName)
	assert.Equal(t, "There is no known Ledger app available for this chain", snap.Error)

	_, err = s.SignTransaction([]byte{1}, ledger.Offsets{})
	assert.True(t, errors.Is(err, deviceerror.ErrUnsupportedChain))
	assert.True(t, errors.Is(s.Refresh(), deviceerror.ErrUnsupportedChain))
	assert.Equal(t, 0, d.get(func(d *fakeDevice) int { return d.sessions }))
}

func TestEVMCompatibleChain(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)

	require.NoError(t, s.Connect(&fakeChannel{}, registry.Chain{Slug: "moonbeam", EVMCompatible: true}))
	waitForState(t, s, Ready)
	assert.Equal(t, "Ethereum", s.Snapshot().AppName)
}

func TestOffsetsAreForwarded(t *testing.T) {
	d := &fakeDevice{}
	s := newTestSigner(t, d)
	connectReady(t, s)

	_, err := s.GetAddress(3)
	require.NoError(t, err)
	assert.Equal(t, ledger.Offsets{Account: 3}, d.lastOffsets)

	_, err = s.SignTransaction([]byte{9}, ledger.Offsets{Account: 1, Address: 2})
	require.NoError(t, err)
	assert.Equal(t, ledger.Offsets{Account: 1, Address: 2}, d.lastOffsets)
	assert.Equal(t, []byte{9}, d.lastPayload)

	sel := ledger.Selector{Account: 4, Change: 1, AddressIndex: 5}
	_, err = s.SignMessageAt(sel, []byte{7}, ledger.Offsets{})
	require.NoError(t, err)
	assert.Equal(t, sel, d.lastSelector)

	_, err = s.GetAddressAt(sel, ledger.Offsets{Address: 2})
	require.NoError(t, err)
	assert.Equal(t, sel, d.lastSelector)
	assert.Equal(t, ledger.Offsets{Address: 2}, d.lastOffsets)

	_, err = s.ShowAddress(sel, ledger.Offsets{Address: 1})
	require.NoError(t, err)
	assert.Equal(t, sel, d.lastSelector)
	assert.Equal(t, ledger.Offsets{Address: 1}, d.lastOffsets)
}

func TestGetVersionLockFlag(t *testing.T) {
	d := &fakeDevice{version: types.Version{Version: [3]uint16{1, 2, 3}}}
	s := newTestSigner(t, d)
	connectReady(t, s)

	v, err := s.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, [3]uint16{1, 2, 3}, v.Version)

	d.set(func(d *fakeDevice) { d.version.IsLocked = true })

	v, err = s.GetVersion()
	assert.True(t, deviceerror.IsLocked(err))
	assert.True(t, v.IsLocked)
	assert.Equal(t, Locked, s.Snapshot().State)
}

func TestOnChange(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)

	d := &fakeDevice{}
	s := newTestSigner(t, d, WithOnChange(func(snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		states = append(states, snap.State)
	}))

	connectReady(t, s)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []State{Probing, Ready, Idle}, states)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := &fakeDevice{}
	s := newTestSigner(t, d, WithRegisterer(reg))
	connectReady(t, s)

	_, err := s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.NoError(t, err)

	d.set(func(d *fakeDevice) { d.opErr = apdu.NewErrBadResponse(apdu.SwConditionsNotSatisfied, "") })
	_, err = s.SignTransaction([]byte{1}, ledger.Offsets{})
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.operations.WithLabelValues(opProbe, outcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.operations.WithLabelValues(opSignTransaction, outcomeSuccess)))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.operations.WithLabelValues(opSignTransaction, outcomeFailure)))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.failures.WithLabelValues(opSignTransaction, deviceerror.UserRejected.String())))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 2)

	// registering twice with the same registry fails
	_, err = New(WithRegisterer(reg))
	assert.Error(t, err)
}
