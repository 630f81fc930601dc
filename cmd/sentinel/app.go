package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/alert"
	"github.com/sweeney/obsy-sentinel/internal/config"
	"github.com/sweeney/obsy-sentinel/internal/control"
	"github.com/sweeney/obsy-sentinel/internal/ekos"
	"github.com/sweeney/obsy-sentinel/internal/indi"
	"github.com/sweeney/obsy-sentinel/internal/metrics"
	"github.com/sweeney/obsy-sentinel/internal/mount"
	"github.com/sweeney/obsy-sentinel/internal/mqtt"
	"github.com/sweeney/obsy-sentinel/internal/safety"
	"github.com/sweeney/obsy-sentinel/internal/shutdown"
	"github.com/sweeney/obsy-sentinel/internal/status"
)

// overrides replaces real collaborators, for tests. Nil fields are built
// from the configuration.
type overrides struct {
	Gateway   indi.Gateway
	Native    mount.Native
	Ekos      ekos.Service
	Publisher mqtt.Publisher
	Abort     func(error)
	Sleep     func(ctx context.Context, d time.Duration) error
}

// devices holds the connections needed to read safety conditions.
type devices struct {
	gw      indi.Gateway
	native  mount.Native
	closers []io.Closer
}

func openDevices(cfg *config.Config, log *slog.Logger, over overrides) *devices {
	d := &devices{gw: over.Gateway, native: over.Native}
	if d.gw == nil {
		d.gw = indi.NewClient(indi.Options{
			Host:    cfg.INDI.Host,
			Port:    cfg.INDI.Port,
			Timeout: cfg.INDI.CommandTimeout,
			GetProp: cfg.INDI.GetProp,
			SetProp: cfg.INDI.SetProp,
			Logger:  log,
		})
	}
	if d.native == nil && cfg.Mount != nil {
		c := mount.NewClient(mount.Options{
			Addr:    cfg.Mount.Addr,
			Timeout: cfg.Mount.Timeout,
			Logger:  log,
		})
		d.native = c
		d.closers = append(d.closers, c)
	}
	return d
}

func (d *devices) Close() {
	for _, c := range d.closers {
		c.Close()
	}
}

// app is the fully wired sentinel.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	dev     *devices
	eval    *safety.Evaluator
	ekos    ekos.Service
	pub     mqtt.Publisher
	sink    alert.Sink
	tracker *status.Tracker
	metrics *metrics.Metrics
	seq     *shutdown.Sequencer
	loop    *control.Loop
	closers []io.Closer
}

func newApp(cfg *config.Config, log *slog.Logger, over overrides) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		dev:     openDevices(cfg, log, over),
		metrics: metrics.New(),
	}
	a.eval = safety.NewEvaluator(cfg, a.dev.gw, a.dev.native, log)

	a.ekos = over.Ekos
	if a.ekos == nil && cfg.Ekos.Enabled {
		c := ekos.NewClient(log)
		a.ekos = c
		a.closers = append(a.closers, c)
	}

	a.pub = over.Publisher
	if a.pub == nil && cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Logger:      log,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init mqtt: %w", err)
		}
		a.pub = p
	}

	sink, err := buildSink(cfg, log, a.pub, a.metrics)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sink = sink

	var threshold uint
	if cfg.Weather != nil {
		threshold = cfg.Weather.DebounceThreshold
	}
	a.tracker = status.NewTracker(time.Now(), status.Config{
		Interval:          cfg.Loop.Interval,
		DebounceThreshold: threshold,
		MaxAttempts:       cfg.Shutdown.MaxAttempts,
		AutoResume:        cfg.Loop.AutoResume,
		Broker:            cfg.MQTT.Broker,
		HTTPAddr:          cfg.HTTP.Addr,
	})

	a.seq = shutdown.New(shutdown.Options{
		Config:   cfg,
		Gateway:  a.dev.gw,
		Checker:  a.eval,
		Ekos:     a.ekos,
		Native:   a.dev.native,
		Alert:    a.sink,
		Logger:   log,
		Observer: control.StepObserver(a.pub, a.metrics, time.Now, log),
		Abort:    over.Abort,
		Sleep:    over.Sleep,
	})

	opts := control.Options{
		Evaluator:  a.eval,
		Sequencer:  a.seq,
		AutoResume: cfg.Loop.AutoResume,
		Interval:   cfg.Loop.Interval,
		Tracker:    a.tracker,
		Publisher:  a.pub,
		Metrics:    a.metrics,
		Logger:     log,
	}
	if a.ekos != nil {
		opts.Resumer = a.ekos
	}
	a.loop = control.New(opts)
	return a, nil
}

// buildSink assembles the operator alert channels. The log sink is
// always present.
func buildSink(cfg *config.Config, log *slog.Logger, pub mqtt.Publisher, m *metrics.Metrics) (alert.Sink, error) {
	sinks := alert.Multi{alert.LogSink{Logger: log}}

	url := cfg.Alert.MattermostURL
	if url == "" && cfg.Alert.MattermostURLFile != "" {
		u, err := alert.ReadURLFile(cfg.Alert.MattermostURLFile)
		if err != nil {
			return nil, err
		}
		url = u
	}
	if url != "" {
		sinks = append(sinks, alert.NewMattermost(url, &http.Client{Timeout: cfg.Alert.Timeout}))
	}
	if cfg.Alert.MQTT && pub != nil {
		sinks = append(sinks, alert.MQTTSink{Publisher: pub})
	}
	return alert.Observed{Sink: sinks, OnResult: m.ObserveAlert}, nil
}

// mqttConnected reports the publisher's connection state, false when
// there is none.
func (a *app) mqttConnected() bool {
	if cs, ok := a.pub.(mqtt.ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

func (a *app) Close() {
	if a.pub != nil {
		a.pub.Close()
	}
	for _, c := range a.closers {
		c.Close()
	}
	a.dev.Close()
}
