package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bpmon/internal/device"
	"github.com/srg/bpmon/internal/device/bluez"
	goble "github.com/srg/bpmon/internal/device/go-ble"
	"github.com/srg/bpmon/internal/estimator"
	"github.com/srg/bpmon/internal/permission"
	"github.com/srg/bpmon/internal/publish"
	"github.com/srg/bpmon/internal/reading"
	"github.com/srg/bpmon/internal/store"
	"github.com/srg/bpmon/pkg/config"
)

// Radio bundles the BLE transport with the probe used to check adapter power.
type Radio struct {
	Transport device.Transport
	Probe     device.RadioProbe
	Close     func() error
}

// Factories used by the commands. Tests replace them with in-memory fakes.
var (
	newRadio = func(cfg *config.Config, logger *logrus.Logger) Radio {
		t := goble.NewTransport(logger, goble.Options{ConnectTimeout: cfg.Device.ConnectTimeout})
		var probe device.RadioProbe = t
		if runtime.GOOS == "linux" {
			probe = bluez.NewRadioProbe(cfg.Device.Adapter, nil, logger)
		}
		return Radio{Transport: t, Probe: probe, Close: t.Close}
	}

	newCapabilityProbe = permission.DefaultProbe

	openStore = func(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
		switch strings.ToLower(cfg.Store.Driver) {
		case "postgres":
			pg, err := store.OpenPostgres(ctx, store.PostgresOptions{
				DSN:      cfg.Store.DSN,
				MaxConns: cfg.Store.MaxConns,
				MaxIdle:  cfg.Store.MaxIdle,
			}, logger)
			if err != nil {
				return nil, err
			}
			return pg, nil
		default:
			return store.NewMemoryStore(), nil
		}
	}

	now = time.Now
)

// newEstimator loads the configured Lua script, or the embedded one, behind
// the panic-safe wrapper.
func newEstimator(cfg *config.Config, logger *logrus.Logger) (*estimator.Safe, func(), error) {
	var (
		lua *estimator.LuaEstimator
		err error
	)
	if cfg.Estimator.Script != "" {
		lua, err = estimator.LoadLuaFile(cfg.Estimator.Script, logger)
	} else {
		lua, err = estimator.NewDefaultLua(logger)
	}
	if err != nil {
		return nil, nil, err
	}
	safe, err := estimator.NewSafe(lua, logger)
	if err != nil {
		lua.Close()
		return nil, nil, err
	}
	return safe, lua.Close, nil
}

// newSinks dials the enabled fan-out targets. The returned sinks implement
// io.Closer; the pipeline closes them.
func newSinks(ctx context.Context, cfg *config.Config, deviceName string, logger *logrus.Logger) ([]reading.Sink, error) {
	var sinks []reading.Sink
	if cfg.Redis.Enabled {
		s, err := publish.DialRedis(ctx, publish.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Channel:  cfg.Redis.Channel,
			TTL:      cfg.Redis.TTL,
			Device:   deviceName,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.MQTT.Enabled {
		s, err := publish.DialMQTT(publish.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
			Retained: cfg.MQTT.Retained,
			Device:   deviceName,
		}, logger)
		if err != nil {
			closeSinks(sinks)
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func closeSinks(sinks []reading.Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

// withStore opens the configured store, runs fn and closes the store.
func withStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger, fn func(store.Store) error) error {
	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	return errors.Join(fn(s), s.Close())
}
