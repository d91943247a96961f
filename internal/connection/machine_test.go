package connection_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/connection"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	sensorAddr = "aa:bb:cc:dd:ee:01"
	waitFor    = time.Second
)

type MachineTestSuite struct {
	suite.Suite
	logger    *logrus.Logger
	transport *testutils.FakeTransport
	radioOn   atomic.Bool
	frames    atomic.Int64
	machine   *connection.Machine
	states    <-chan connection.State
	cancelSub func()
}

func (s *MachineTestSuite) SetupTest() {
	s.logger = testutils.NewTestLogger()
	s.transport = testutils.NewFakeTransport()
	s.radioOn.Store(true)
	s.frames.Store(0)
	s.machine = s.newMachine(s.options())
}

func (s *MachineTestSuite) TearDownTest() {
	if s.cancelSub != nil {
		s.cancelSub()
	}
	s.NoError(s.machine.Close())
}

func (s *MachineTestSuite) options() connection.Options {
	opts := connection.DefaultOptions()
	opts.ScanTimeout = 200 * time.Millisecond
	opts.RetryBackoff = 10 * time.Millisecond
	opts.ConnectTimeout = time.Second
	return opts
}

func (s *MachineTestSuite) newMachine(opts connection.Options) *connection.Machine {
	radio := device.RadioProbeFunc(func(context.Context) (bool, error) { return s.radioOn.Load(), nil })
	m, err := connection.New(s.transport, radio, func([]byte) { s.frames.Add(1) }, opts, s.logger)
	s.Require().NoError(err, "machine creation MUST succeed")

	if s.cancelSub != nil {
		s.cancelSub()
	}
	s.states, s.cancelSub = m.Subscribe()
	return m
}

func (s *MachineTestSuite) expectStates(want ...connection.State) {
	s.T().Helper()
	got := testutils.ReceiveN(s.states, len(want), waitFor)
	s.Require().Equal(want, got, "state transitions MUST match")
}

func (s *MachineTestSuite) advertise(name string) {
	s.T().Helper()
	s.Require().True(testutils.Eventually(waitFor, s.transport.Scanning), "scan MUST be started")
	s.Require().True(s.transport.Advertise(testutils.CreateMockAdvertisement(name, sensorAddr, -40)), "scan MUST be running")
}

func (s *MachineTestSuite) connect() {
	s.T().Helper()
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})
	s.advertise("Group12-BP")
	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, connection.Connected{DeviceID: sensorAddr})
}

func (s *MachineTestSuite) TestInitialState() {
	s.Equal(connection.Initial{}, s.machine.State())
	s.Empty(s.machine.Session())
}

func (s *MachineTestSuite) TestConnectScenario() {
	// GOAL: only advertisements carrying the prefix are accepted and the scan
	// is stopped exactly once
	//
	// TEST SCENARIO: non-matching advertisement → still scanning; matching
	// advertisement → DeviceFound → Connected
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})
	s.NotEmpty(s.machine.Session(), "setup MUST open a session")

	s.advertise("Fitness Band")
	s.advertise("group12-lowercase")
	_, got := testutils.Receive(s.states, 50*time.Millisecond)
	s.False(got, "non-matching advertisements MUST NOT change state")
	s.Equal(connection.Scanning{}, s.machine.State())

	s.advertise("BP Group12 Cuff")
	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, connection.Connected{DeviceID: sensorAddr})

	starts, stops, connects, _ := s.transport.Counters()
	s.Equal(1, starts)
	s.Equal(1, stops, "scan MUST be stopped exactly once")
	s.Equal(1, connects)
	s.False(s.transport.Scanning())

	svc, char := s.transport.Enabled()
	s.Equal(device.DefaultServiceUUID, svc)
	s.Equal(device.DefaultCharacteristicUUID, char)

	s.True(s.transport.Notify([]byte{1, 0}))
	s.Equal(int64(1), s.frames.Load(), "notifications MUST reach the frame handler")
}

func (s *MachineTestSuite) TestLateAdvertisementsIgnored() {
	s.connect()

	s.False(s.transport.Scanning(), "scan MUST be stopped after the first match")
	s.True(s.transport.AdvertiseLate(testutils.CreateMockAdvertisement("Group12-B", "aa:bb:cc:dd:ee:02", -40)))

	_, got := testutils.Receive(s.states, 50*time.Millisecond)
	s.False(got, "late advertisements MUST NOT change state")
	_, stops, connects, _ := s.transport.Counters()
	s.Equal(1, connects, "a second match MUST NOT trigger another connect")
	s.Equal(1, stops)
	s.Equal(connection.Connected{DeviceID: sensorAddr}, s.machine.State())
}

func (s *MachineTestSuite) TestScanTimeout() {
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})

	st, ok := testutils.Receive(s.states, 2*time.Second)
	s.Require().True(ok)
	s.Equal(connection.DeviceNotFound{}, st)
	s.True(testutils.Eventually(waitFor, func() bool { return !s.transport.Scanning() }), "timed-out scan MUST be stopped")
}

func (s *MachineTestSuite) TestRadioOff() {
	s.radioOn.Store(false)
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.RadioOff{})

	starts, _, _, _ := s.transport.Counters()
	s.Zero(starts, "scan MUST NOT start with the radio off")

	s.Run("recovers on next setup once enabled", func() {
		s.radioOn.Store(true)
		s.Require().NoError(s.machine.StartSetup(context.Background()))
		s.expectStates(connection.Scanning{})
	})
}

func (s *MachineTestSuite) TestStartSetupWhileScanningIsNoop() {
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})
	session := s.machine.Session()

	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.Equal(session, s.machine.Session(), "StartSetup while scanning MUST NOT open a new session")

	starts, _, _, _ := s.transport.Counters()
	s.Equal(1, starts)
}

func (s *MachineTestSuite) TestRetryScenario() {
	// GOAL: isolated peer disconnects keep reconnecting because every completed
	// discovery restores the retry budget
	//
	// TEST SCENARIO: five 0x13 drops, each after a stable link → every drop
	// reconnects, more than MaxRetries in total
	s.connect()

	for i := 1; i <= 5; i++ {
		time.Sleep(20 * time.Millisecond)
		s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated), "drop %d MUST hit a live link", i)
		s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, connection.Connected{DeviceID: sensorAddr})
	}

	_, _, connects, _ := s.transport.Counters()
	s.Equal(6, connects, "initial connect plus one reconnect per drop MUST be attempted")
}

func (s *MachineTestSuite) TestRetryBudgetExhaustedAfterReconnect() {
	// GOAL: the budget counts consecutive failures since the last completed
	// discovery
	//
	// TEST SCENARIO: one clean reconnect, then a drop whose reconnects keep
	// failing → three retries, then Failed
	s.connect()

	s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated))
	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, connection.Connected{DeviceID: sensorAddr})

	s.transport.ConnectErrs = []error{errors.New("dial timeout"), errors.New("dial timeout"), errors.New("dial timeout")}
	s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated))

	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr})
	st, ok := testutils.Receive(s.states, waitFor)
	s.Require().True(ok)
	s.Equal(connection.Failed{Reason: "connection failed: dial timeout"}, st, "a full budget of failed reconnects MUST fail")

	_, _, connects, _ := s.transport.Counters()
	s.Equal(5, connects, "initial connect, one reconnect and three failed retries MUST be attempted")
}

func (s *MachineTestSuite) TestNonRetryableDisconnect() {
	s.connect()

	s.Require().True(s.transport.DropLink(device.ReasonConnectionTimeout))
	s.expectStates(connection.Failed{Reason: "device disconnected (reason: 0x08)"})
}

func (s *MachineTestSuite) TestConfigurableRetryableReasons() {
	opts := s.options()
	opts.RetryableReasons = []device.Reason{device.ReasonConnectionTimeout}
	s.Require().NoError(s.machine.Close())
	s.machine = s.newMachine(opts)

	s.connect()
	s.Require().True(s.transport.DropLink(device.ReasonConnectionTimeout))
	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, connection.Connected{DeviceID: sensorAddr})

	s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated))
	s.expectStates(connection.Failed{Reason: "device disconnected (reason: 0x13)"})
}

func (s *MachineTestSuite) TestFailedReconnectConsumesBudget() {
	s.connect()

	s.transport.ConnectErrs = []error{errors.New("dial timeout"), errors.New("dial timeout"), errors.New("dial timeout")}
	s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated))

	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr})
	st, ok := testutils.Receive(s.states, waitFor)
	s.Require().True(ok)
	s.Equal(connection.Failed{Reason: "connection failed: dial timeout"}, st, "exhausted reconnects MUST fail")

	_, _, connects, _ := s.transport.Counters()
	s.Equal(4, connects)
}

func (s *MachineTestSuite) TestConnectFailures() {
	tests := []struct {
		name   string
		setup  func()
		expect connection.State
	}{
		{
			name:   "permission revoked during connect",
			setup:  func() { s.transport.ConnectErrs = []error{errors.Join(device.ErrPermissionDenied, errors.New("EPERM"))} },
			expect: connection.Failed{Reason: "permission denied"},
		},
		{
			name: "service missing",
			setup: func() {
				s.transport.EnableErr = &device.NotFoundError{Resource: "service", UUIDs: []string{device.DefaultServiceUUID}}
			},
			expect: connection.Failed{Reason: "required service not found"},
		},
		{
			name: "characteristic missing",
			setup: func() {
				s.transport.EnableErr = &device.NotFoundError{Resource: "characteristic", UUIDs: []string{device.DefaultServiceUUID, device.DefaultCharacteristicUUID}}
			},
			expect: connection.Failed{Reason: "sensor characteristic not found"},
		},
		{
			name:   "generic transport error",
			setup:  func() { s.transport.ConnectErrs = []error{errors.New("gatt error 133")} },
			expect: connection.Failed{Reason: "connection failed: gatt error 133"},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.TearDownTest()
			s.SetupTest()
			tt.setup()

			s.Require().NoError(s.machine.StartSetup(context.Background()))
			s.expectStates(connection.Scanning{})
			s.advertise("Group12")
			s.expectStates(connection.DeviceFound{DeviceID: sensorAddr}, tt.expect)

			s.True(testutils.Eventually(waitFor, func() bool {
				linked, _ := s.transport.Linked()
				return !linked
			}), "failed sessions MUST release the link")
		})
	}
}

func (s *MachineTestSuite) TestScanStartFailure() {
	s.Run("permission denied", func() {
		s.transport.StartScanErr = errors.Join(device.ErrPermissionDenied, errors.New("hci"))
		s.Require().NoError(s.machine.StartSetup(context.Background()))
		s.expectStates(connection.Scanning{}, connection.Failed{Reason: "permission denied"})
	})

	s.Run("radio switched off between probe and scan", func() {
		s.transport.StartScanErr = device.ErrBluetoothOff
		s.Require().NoError(s.machine.StartSetup(context.Background()))
		s.expectStates(connection.Scanning{}, connection.RadioOff{})
	})
}

func (s *MachineTestSuite) TestStartSetupCancelsPendingRetry() {
	// GOAL: a fresh setup supersedes a pending retry instead of queueing behind it
	opts := s.options()
	opts.RetryBackoff = 300 * time.Millisecond
	opts.ScanTimeout = 5 * time.Second
	s.Require().NoError(s.machine.Close())
	s.machine = s.newMachine(opts)

	s.connect()
	s.Require().True(s.transport.DropLink(device.ReasonRemoteUserTerminated))
	s.expectStates(connection.DeviceFound{DeviceID: sensorAddr})

	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})

	time.Sleep(400 * time.Millisecond)
	_, _, connects, _ := s.transport.Counters()
	s.Equal(1, connects, "cancelled retry MUST NOT reconnect")
	s.Equal(connection.Scanning{}, s.machine.State())
}

func (s *MachineTestSuite) TestStartSetupSupersedesLiveLink() {
	s.connect()

	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})

	_, _, _, disconnects := s.transport.Counters()
	s.Equal(1, disconnects, "previous link MUST be released")
}

func (s *MachineTestSuite) TestCloseTearsDown() {
	s.connect()

	s.Require().NoError(s.machine.Close())
	linked, _ := s.transport.Linked()
	s.False(linked, "Close MUST disconnect")

	s.ErrorIs(s.machine.StartSetup(context.Background()), connection.ErrClosed)
	s.NoError(s.machine.Close(), "Close MUST be idempotent")

	_, ok := <-s.states
	s.False(ok, "subscriptions MUST be closed")
}

func (s *MachineTestSuite) TestCloseWhileScanning() {
	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})

	s.Require().NoError(s.machine.Close())
	s.False(s.transport.Scanning(), "Close MUST stop the scan")
}

func (s *MachineTestSuite) TestCloseCancelsConnectAttempt() {
	entered := make(chan struct{})
	s.transport.ConnectHook = func(ctx context.Context, _ string) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}

	s.Require().NoError(s.machine.StartSetup(context.Background()))
	s.expectStates(connection.Scanning{})
	s.advertise("Group12")
	<-entered

	done := make(chan struct{})
	go func() {
		_ = s.machine.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(waitFor):
		s.Fail("Close MUST cancel a blocked connect")
	}
}

func (s *MachineTestSuite) TestNewValidation() {
	_, err := connection.New(nil, nil, func([]byte) {}, connection.DefaultOptions(), nil)
	s.Error(err)

	_, err = connection.New(s.transport, nil, nil, connection.DefaultOptions(), nil)
	s.Error(err)

	opts := connection.DefaultOptions()
	opts.NamePrefix = ""
	_, err = connection.New(s.transport, nil, func([]byte) {}, opts, nil)
	s.Error(err)

	opts = connection.DefaultOptions()
	opts.ConnectTimeout = 0
	_, err = connection.New(s.transport, nil, func([]byte) {}, opts, nil)
	s.ErrorContains(err, "connect timeout must be positive", "zero connect timeout MUST be rejected")
}

func TestMachineTestSuite(t *testing.T) {
	suite.Run(t, new(MachineTestSuite))
}

func TestIsTerminal(t *testing.T) {
	terminal := []connection.State{connection.Initial{}, connection.RadioOff{}, connection.DeviceNotFound{}, connection.Failed{Reason: "x"}}
	live := []connection.State{connection.Scanning{}, connection.DeviceFound{DeviceID: "a"}, connection.Connected{DeviceID: "a"}}

	for _, st := range terminal {
		if !connection.IsTerminal(st) {
			t.Errorf("%s MUST be terminal", st)
		}
	}
	for _, st := range live {
		if connection.IsTerminal(st) {
			t.Errorf("%s MUST NOT be terminal", st)
		}
	}
}
