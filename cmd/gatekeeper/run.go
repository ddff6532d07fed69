package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrCodeEU/gatekeeper/pkg/camera"
	"github.com/MrCodeEU/gatekeeper/pkg/controller"
	"github.com/MrCodeEU/gatekeeper/pkg/detection"
	"github.com/MrCodeEU/gatekeeper/pkg/dispatch"
	"github.com/MrCodeEU/gatekeeper/pkg/display"
	"github.com/MrCodeEU/gatekeeper/pkg/eventlog"
	"github.com/MrCodeEU/gatekeeper/pkg/i18n"
	"github.com/MrCodeEU/gatekeeper/pkg/keypad"
	"github.com/MrCodeEU/gatekeeper/pkg/logging"
	"github.com/MrCodeEU/gatekeeper/pkg/metrics"
	"github.com/MrCodeEU/gatekeeper/pkg/notify"
	"github.com/MrCodeEU/gatekeeper/pkg/recognition"
	"github.com/MrCodeEU/gatekeeper/pkg/registry"
	"github.com/MrCodeEU/gatekeeper/pkg/relay"
	"github.com/MrCodeEU/gatekeeper/pkg/session"
	"github.com/MrCodeEU/gatekeeper/pkg/storage"
	"github.com/MrCodeEU/gatekeeper/pkg/vision"
)

func cmdRun(args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Component("main")
	lang := i18n.NormalizeLanguage(cfg.I18n.DefaultLanguage)
	catalog := i18n.New(cfg.I18n.Catalog, lang)

	people, err := registry.Open(cfg.Storage.RegistryDB, lang)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}
	defer func() { _ = people.Close() }()

	events, err := eventlog.Open(cfg.Storage.EventsDB)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer func() { _ = events.Close() }()

	recognizer := recognition.NewEngine()
	if err := recognizer.Load(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load recognition models: %w", err)
	}
	defer func() { _ = recognizer.Close() }()

	cache, err := storage.NewCacheStore(cfg.Storage.CacheDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	gallery := storage.NewEmbeddingStore(people, recognizer, cache)
	preloaded, err := gallery.Embeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}
	metrics.GallerySize.Set(float64(preloaded.Len()))

	haar, err := vision.NewHaarDetector(cfg.Recognition.CascadeFile)
	if err != nil {
		return err
	}
	defer func() { _ = haar.Close() }()
	detector := detection.New(haar, vision.NewCNNDetector(recognizer), detection.Options{
		ResizeFactor:      cfg.Recognition.ResizeFactor,
		ConfirmationDelay: cfg.Recognition.ConfirmationDelay,
	})

	cam, err := camera.Open(cfg.Camera.Device, cfg.Camera.Width, cfg.Camera.Height)
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer func() { _ = cam.Close() }()

	win := display.New(display.Options{
		Name:       cfg.Display.WindowName,
		Fullscreen: cfg.Display.Fullscreen,
		Width:      cfg.Display.Width,
		Height:     cfg.Display.Height,
		Labels: display.Labels{
			Hint:    catalog.Get(i18n.MsgWelcome, lang),
			Pending: catalog.Get(i18n.MsgFaceDetected, lang),
			Yes:     catalog.Get(i18n.MsgYes, lang),
			No:      catalog.Get(i18n.MsgNo, lang),
		},
	})
	defer func() { _ = win.Close() }()

	sessOpts := session.DefaultOptions()
	sessOpts.ResizeFactor = cfg.Recognition.ResizeFactor
	sessOpts.DrainFrames = cfg.Camera.DrainFrames
	sessOpts.SnapshotPath = cfg.Storage.SnapshotPath
	sessOpts.Language = lang
	sess := session.New(session.Deps{
		Source:   cam,
		Screen:   win,
		Detector: detector,
		Matcher:  recognition.NewMatcher(cfg.Recognition.Tolerance),
		Gallery:  gallery,
		People:   people,
		Catalog:  catalog,
	}, sessOpts)

	probe := notify.DialProbe{Host: cfg.Notify.ConnectivityHost, Timeout: time.Second}

	dispatchDeps := dispatch.Deps{
		Relays:  relay.New(cfg.Relays.Endpoints(), cfg.Relays.PulseWidth, cfg.Relays.RequestTimeout),
		Screen:  win,
		Confirm: win,
		State:   dispatch.AssumeOff{},
		Online:  probe,
		Catalog: catalog,
	}
	ctrlDeps := controller.Deps{
		Session: sess,
		Keypad:  keypad.NewRunner(win, catalog, cfg.Keypad.MaxAttempts, cfg.Keypad.Timeout),
		People:  people,
		Events:  events,
		Screen:  win,
		Camera:  cam,
		Online:  probe,
		Catalog: catalog,
	}

	if cfg.Notify.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			log.WithError(err).Warn("Telegram unavailable, notifications disabled")
		} else {
			dispatchDeps.Notifier = tg
			ctrlDeps.Notifier = tg
		}
	}

	ctrlDeps.Dispatcher = dispatch.New(dispatchDeps, dispatch.DefaultSwitches, dispatch.Options{
		OpenShort:       cfg.Gate.OpenShort,
		WaitShort:       cfg.Gate.WaitShort,
		AlarmAttempts:   cfg.Alarm.Attempts,
		AlarmBackoff:    cfg.Alarm.Backoff,
		ArmSettle:       cfg.Alarm.Settle,
		ResponseTimeout: cfg.Notify.ResponseTimeout,
	})

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen, events); err != nil {
				log.WithError(err).Error("Status server stopped")
			}
		}()
	}

	ctrlOpts := controller.DefaultOptions()
	ctrlOpts.Language = lang
	if cfg.Notify.JoinTimeout > 0 {
		ctrlOpts.JoinTimeout = cfg.Notify.JoinTimeout
	}

	log.WithFields(logging.Fields{
		"version":    version,
		"embeddings": preloaded.Len(),
		"notify":     ctrlDeps.Notifier != nil,
	}).Info("Gate controller ready")

	err = controller.New(ctrlDeps, ctrlOpts).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
