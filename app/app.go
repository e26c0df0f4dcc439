package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/capture"
	"strzcam.com/posture/classify"
	"strzcam.com/posture/clock"
	"strzcam.com/posture/config"
	"strzcam.com/posture/monitor"
	"strzcam.com/posture/notify"
	"strzcam.com/posture/pipeline"
	"strzcam.com/posture/pose"
	"strzcam.com/posture/server"
	"strzcam.com/posture/session"
	"strzcam.com/posture/store"
)

var log = logging.Logger("posture/app")

// App is one assembled posture service.
type App struct {
	cfg     *config.Config
	source  capture.Source
	kv      store.KV
	events  *notify.Hub[notify.Event]
	frames  *notify.Hub[[]byte]
	service *monitor.Service
	server  *server.Server
	mqtt    *notify.MQTTSink
}

// New builds every component from cfg. Pipeline runs are bound to ctx.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	loc, err := clock.LoadZone(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	clk := clock.Zoned(clock.SystemClock{}, loc)

	spine, err := classify.LoadLinearModel(cfg.Models.Spine, classify.Spine)
	if err != nil {
		return nil, err
	}
	sit, err := classify.LoadLinearModel(cfg.Models.Sit, classify.Sit)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		events: notify.NewHub[notify.Event](),
		frames: notify.NewHub[[]byte](),
	}
	if a.source, err = capture.Open(cfg.Source, clk); err != nil {
		return nil, fmt.Errorf("open %s source: %w", cfg.Source.Kind, err)
	}
	if a.kv, err = store.Open(ctx, cfg.Store); err != nil {
		a.source.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Kind, err)
	}
	recorder := store.NewRecorder(a.kv, store.NewKeyer(loc))

	advisor := cfg.Models.Advisor()
	state := pipeline.NewDiagnosisState(cfg.Models.Unavailable, advisor)
	p, err := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Source:    a.source,
		Extractor: pose.NewHTTPExtractor(cfg.Extractor.URL, cfg.Extractor.Timeout),
		Spine:     spine,
		Sit:       sit,
		Recorder:  recorder,
		Advisor:   advisor,
		Clock:     clk,
		State:     state,
		Events:    a.events,
		Frames:    a.frames,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service, err = monitor.NewService(ctx, monitor.Options{
		Pipeline: p,
		Ledger:   session.NewLedger(clk),
		State:    state,
		Events:   a.events,
		Frames:   a.frames,
		Recorder: recorder,
		Backlog:  cfg.Server.Backlog,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.service.RestoreHistory(ctx); err != nil {
		log.Warnf("could not restore session history: %v", err)
	}

	a.server = server.New(a.service, server.Options{
		Addr:          cfg.Server.Addr,
		AllowedOrigin: cfg.Server.AllowedOrigin,
		Clock:         clk,
	})
	if cfg.MQTT.Enabled() {
		a.mqtt = notify.NewMQTTSink(cfg.MQTT)
	}
	return a, nil
}

func (a *App) Service() *monitor.Service {
	return a.service
}

func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves until ctx is cancelled or the listener fails, then stops
// streaming and releases every resource.
func (a *App) Run(ctx context.Context) error {
	if a.mqtt != nil {
		if err := a.mqtt.Connect(ctx); err != nil {
			log.Warnf("mqtt disabled: %v", err)
			a.mqtt = nil
		} else {
			a.service.AttachSink("mqtt", a.mqtt)
			go a.mqtt.Run(ctx, a.events)
		}
	}
	if a.cfg.Pipeline.Autostart {
		res := a.service.StartStreaming()
		log.Infof("autostart: streaming since %s", res.StartTime.Format("2006-01-02 15:04:05"))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.ListenAndServe() }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.service.Shutdown(sctx); err != nil {
		log.Warnf("pipeline did not stop in time: %v", err)
	}
	if err := a.server.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warnf("http shutdown: %v", err)
	}
	a.Close()
	return runErr
}

func (a *App) Close() {
	a.events.Close()
	a.frames.Close()
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			log.Warnf("closing store: %v", err)
		}
	}
	if a.source != nil {
		a.source.Close()
	}
}
