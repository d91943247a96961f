package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/permission"
	"github.com/srg/bpmon/internal/store"
	"github.com/srg/bpmon/internal/testutils"
	"github.com/srg/bpmon/pkg/config"
	"github.com/stretchr/testify/suite"
)

// fixedNow anchors preset ranges in command tests.
var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// CommandTestSuite swaps the command factories for in-memory fakes.
// All cmd/bpmon test suites embed it.
type CommandTestSuite struct {
	suite.Suite

	Transport *testutils.FakeTransport
	Store     *store.MemoryStore
	RadioOn   bool
	Granted   permission.StaticProbe

	origRadio func(*config.Config, *logrus.Logger) Radio
	origProbe func() permission.CapabilityProbe
	origStore func(context.Context, *config.Config, *logrus.Logger) (store.Store, error)
	origNow   func() time.Time
}

func (s *CommandTestSuite) SetupTest() {
	s.Transport = testutils.NewFakeTransport()
	s.Store = store.NewMemoryStore()
	s.RadioOn = true
	s.Granted = permission.GrantAll(permission.DefaultRequired...)

	s.origRadio, s.origProbe, s.origStore, s.origNow = newRadio, newCapabilityProbe, openStore, now

	newRadio = func(*config.Config, *logrus.Logger) Radio {
		return Radio{
			Transport: s.Transport,
			Probe: device.RadioProbeFunc(func(context.Context) (bool, error) {
				return s.RadioOn, nil
			}),
		}
	}
	newCapabilityProbe = func() permission.CapabilityProbe { return s.Granted }
	openStore = func(context.Context, *config.Config, *logrus.Logger) (store.Store, error) {
		return s.Store, nil
	}
	now = func() time.Time { return fixedNow }
}

func (s *CommandTestSuite) TearDownTest() {
	newRadio, newCapabilityProbe, openStore, now = s.origRadio, s.origProbe, s.origStore, s.origNow
}

// ExecuteCommand runs the root command with args and returns combined output.
// Flag values from earlier runs are reset first.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// WriteFile writes content into the test's temp dir and returns the path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "fixture write MUST succeed")
	return path
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}
