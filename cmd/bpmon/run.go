package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bpmon/internal/capture"
	"github.com/srg/bpmon/internal/connection"
	"github.com/srg/bpmon/internal/permission"
	"github.com/srg/bpmon/internal/pipeline"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the wearable and record readings",
	Long: `Discovers the Group12 wearable, subscribes to its sensor characteristic
and records a blood-pressure estimate every time the sample window fills.

The link is re-established automatically when the wearable drops it with a
retryable reason. Press Ctrl+C to stop.

Examples:
  # Monitor until interrupted
  bpmon run

  # Stop after three readings and keep the raw samples
  bpmon run --count 3 --capture-file samples.bin

  # Persist to PostgreSQL and publish to Redis/MQTT per config
  bpmon run --config bpmon.yaml`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var (
	runDuration    time.Duration
	runCount       int
	runCaptureFile string
)

func init() {
	runCmd.Flags().DurationVarP(&runDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
	runCmd.Flags().IntVarP(&runCount, "count", "n", 0, "Stop after this many readings (0 for unlimited)")
	runCmd.Flags().StringVar(&runCaptureFile, "capture-file", "", "Write the most recent raw samples to this file on exit")
}

func runMonitor(cmd *cobra.Command, _ []string) error {
	if runCount < 0 {
		return fmt.Errorf("invalid --count %d: must not be negative", runCount)
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to stop
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	radio := newRadio(cfg, logger)
	if radio.Close != nil {
		defer func() { _ = radio.Close() }()
	}

	gate := permission.NewGate(nil, newCapabilityProbe(), radio.Probe, logger)
	defer gate.Close()

	est, closeEstimator, err := newEstimator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEstimator()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	sinks, err := newSinks(ctx, cfg, cfg.Device.NamePrefix, logger)
	if err != nil {
		_ = st.Close()
		return err
	}

	var recorder *capture.Recorder
	if runCaptureFile != "" {
		if recorder, err = capture.New(cfg.Capture.Samples, logger); err != nil {
			_ = st.Close()
			closeSinks(sinks)
			return err
		}
		recorder.Start()
	}

	p, err := pipeline.New(pipeline.Deps{
		Transport: radio.Transport,
		Radio:     radio.Probe,
		Gate:      gate,
		Estimator: est,
		Store:     st,
		Sinks:     sinks,
		Capture:   recorder,
		Logger:    logger,
	}, cfg.PipelineOptions())
	if err != nil {
		_ = st.Close()
		closeSinks(sinks)
		return err
	}

	monitorErr := monitor(ctx, cmd, p, logger)
	closeErr := p.Close()

	if recorder != nil {
		if err := writeCapture(recorder, runCaptureFile); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}

	m := p.Metrics()
	fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d reading(s) from %d frame(s), %d dropped\n",
		m.Recorded, m.Decoder.Frames, m.Decoder.Dropped+uint64(m.FramesDropped))

	if monitorErr != nil {
		return monitorErr
	}
	return closeErr
}

// monitor starts the pipeline and follows its states and readings until a
// stop condition: Ctrl+C, --duration, --count or a terminal link state.
func monitor(ctx context.Context, cmd *cobra.Command, p *pipeline.Pipeline, logger *logrus.Logger) error {
	states, cancelStates := p.States()
	defer cancelStates()
	readings, cancelReadings := p.Readings()
	defer cancelReadings()

	view := newStatusView(cmd.OutOrStdout())
	defer view.Done()

	logger.WithField("run_id", p.RunID()).Info("Starting monitor")
	if err := p.Start(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if runDuration > 0 {
		timer := time.NewTimer(runDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	count := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-deadline:
			return nil
		case st, ok := <-states:
			if !ok {
				return nil
			}
			view.State(st)
			if err := terminalError(st); err != nil {
				return err
			}
		case r, ok := <-readings:
			if !ok {
				return nil
			}
			view.Reading(r)
			count++
			if runCount > 0 && count >= runCount {
				return nil
			}
		}
	}
}

func terminalError(st connection.State) error {
	switch s := st.(type) {
	case connection.RadioOff:
		return ErrRadioOff
	case connection.DeviceNotFound:
		return ErrDeviceNotFound
	case connection.Failed:
		return fmt.Errorf("%w: %s", ErrLinkFailed, s.Reason)
	case connection.Initial, connection.Scanning, connection.DeviceFound, connection.Connected:
		return nil
	default:
		panic(fmt.Sprintf("unknown connection state %T", st))
	}
}

func writeCapture(r *capture.Recorder, path string) error {
	r.Stop()
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	if _, err := r.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write capture file: %w", err)
	}
	return f.Close()
}
