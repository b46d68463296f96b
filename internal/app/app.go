// Package app wires the process together: config, logging, the subscriber
// store, the serialization queue, the Telegram bot and the poll loop.
package app

import (
	"context"
	"io"
	"sync"

	"poweronbot/internal/bot"
	"poweronbot/internal/config"
	"poweronbot/internal/poll"
	"poweronbot/internal/schedule"
	"poweronbot/internal/serial"
	"poweronbot/internal/store"
	"poweronbot/pkg/logx"
)

type App struct {
	log       logx.Logger
	logCloser io.Closer

	cfgm   *config.Manager
	store  *store.Store
	queue  *serial.Queue
	bot    *bot.Bot
	runner *poll.Runner

	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	log, logCloser, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	st, err := store.Open(cfg.Storage, log.With(logx.String("comp", "store")))
	if err != nil {
		closeQuiet(logCloser)
		return nil, err
	}

	client, err := schedule.NewClient(cfg.Source, log.With(logx.String("comp", "source")))
	if err != nil {
		_ = st.Close()
		closeQuiet(logCloser)
		return nil, err
	}

	queue := serial.New(0, log.With(logx.String("comp", "queue")))

	tg, err := bot.New(cfg.Telegram, st, queue, client, log.With(logx.String("comp", "bot")))
	if err != nil {
		_ = st.Close()
		closeQuiet(logCloser)
		return nil, err
	}

	runner := poll.New(cfg.Poll.Settings(), tg.EnqueueSweep, log.With(logx.String("comp", "poll")))

	return &App{
		log:       log,
		logCloser: logCloser,
		cfgm:      cfgm,
		store:     st,
		queue:     queue,
		bot:       tg,
		runner:    runner,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.queue.Start(ctx)
	a.bot.Start()
	a.runner.Start()

	wctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchWG.Add(2)
	go func() {
		defer a.watchWG.Done()
		if err := a.cfgm.Watch(wctx); err != nil && wctx.Err() == nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.watchWG.Done()
		a.reloadLoop(wctx)
	}()

	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.watchWG.Wait()

	a.runner.Stop()
	a.bot.Stop()
	a.queue.Stop(ctx)

	if err := a.store.Save(); err != nil {
		a.log.Warn("final store save failed", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close failed", logx.Err(err))
	}
	a.log.Info("stopped")
	closeQuiet(a.logCloser)
	return nil
}

// reloadLoop applies hot-reloadable settings when the config file changes:
// the log level and the poll cadence. Everything else needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.log.SetLevel(cfg.Logging.Level)
			a.runner.Apply(cfg.Poll.Settings())
			a.log.Info("config reloaded",
				logx.String("log_level", cfg.Logging.Level),
				logx.String("poll_mode", cfg.Poll.Settings().Mode),
			)
		}
	}
}

func closeQuiet(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
