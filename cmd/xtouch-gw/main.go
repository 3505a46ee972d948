// Command xtouch-gw is the gateway's composition root: it loads a
// configuration snapshot, opens the camera-target store and surface MIDI
// ports, wires the router, drivers, and external API together, and runs
// until an OS signal requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	midi "gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	bolt "go.etcd.io/bbolt"

	"github.com/jdginn/xtouch-gw/activity"
	"github.com/jdginn/xtouch-gw/api"
	"github.com/jdginn/xtouch-gw/camera"
	"github.com/jdginn/xtouch-gw/config"
	"github.com/jdginn/xtouch-gw/controlmap"
	"github.com/jdginn/xtouch-gw/driver"
	"github.com/jdginn/xtouch-gw/lighting"
	"github.com/jdginn/xtouch-gw/logging"
	"github.com/jdginn/xtouch-gw/mixer"
	"github.com/jdginn/xtouch-gw/router"
	"github.com/jdginn/xtouch-gw/surface"
)

// ledActivityDuration is how long a driver's (direction) is reported
// "active" after its last recorded event, matching the LED-hold window a
// physical activity indicator would use.
const ledActivityDuration = 250 * time.Millisecond

// activitySnapshotInterval is how often the activity poller emits a
// Snapshot covering every registered driver.
const activitySnapshotInterval = 500 * time.Millisecond

func main() {
	configPath := flag.String("config", "xtouch-gw.yaml", "path to the configuration snapshot")
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for persisted gateway state")
	flag.Parse()

	if err := run(*configPath, *dataDir); err != nil {
		logging.Get(logging.META).Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "xtouch-gw")
}

func run(configPath, dataDir string) error {
	log := logging.Get(logging.META)

	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open configuration file: %w", err)
	}
	cfg, err := config.Load(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "xtouch-gw.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open camera-target store: %w", err)
	}
	defer db.Close()

	cameraStore, err := camera.NewStore(db)
	if err != nil {
		return fmt.Errorf("failed to initialize camera-target store: %w", err)
	}

	table, err := loadControlMap(cfg)
	if err != nil {
		return fmt.Errorf("failed to load control map: %w", err)
	}

	defer midi.CloseDriver()
	in, err := midi.FindInPort(cfg.Surface.InputPort)
	if err != nil {
		return fmt.Errorf("failed to find surface input port %q: %w", cfg.Surface.InputPort, err)
	}
	out, err := midi.FindOutPort(cfg.Surface.OutputPort)
	if err != nil {
		return fmt.Errorf("failed to find surface output port %q: %w", cfg.Surface.OutputPort, err)
	}

	surf := surface.New(table, cfg.Surface.Mode == config.ModeMCU, cfg.Surface.FeedbackGuardMs, in, out)

	mixerDriver := mixer.New(cfg.Mixer.URL, cfg.Camera, cfg.Mixer.CanvasWidth, cfg.Mixer.CanvasHeight)

	lightingDriver := lighting.New(nil)
	if cfg.Lighting.Enabled && cfg.Lighting.OutputPort != "" {
		if lout, err := midi.FindOutPort(cfg.Lighting.OutputPort); err == nil {
			lightingDriver = lighting.New(lout)
		} else {
			log.Warn("lighting output port not found, running pass-through with no output", "port", cfg.Lighting.OutputPort, "error", err)
		}
	}

	tracker := activity.NewTracker(ledActivityDuration)

	r, err := router.New(cfg, cameraStore, surf, tracker)
	if err != nil {
		return fmt.Errorf("failed to construct router: %w", err)
	}
	r.RegisterDriver(mixerDriver)
	r.RegisterDriver(lightingDriver)

	apiServer := api.New(cameraStore, cfg.Camera.Cameras, cfg.Gamepads, mixerDriver)
	wireOnAirBridge(mixerDriver, apiServer, cfg.Camera)

	fanout := activity.NewStatusFanout(activity.DefaultRateLimit, func(driverName string, ev driver.StatusEvent) {
		log.Info("driver connection status changed", "driver", driverName, "status", ev.Status.String(), "attempt", ev.Attempt)
	})
	for _, d := range r.Drivers() {
		d.SubscribeConnectionStatus(fanout.Subscribe(d.Name()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driverNames := make([]string, 0, len(r.Drivers()))
	for _, d := range r.Drivers() {
		driverNames = append(driverNames, d.Name())
	}
	go tracker.StartSnapshotPoller(ctx, driverNames, activitySnapshotInterval, func(activity.Snapshot) {})

	if err := r.Init(); err != nil {
		return fmt.Errorf("failed to initialize drivers: %w", err)
	}

	go func() {
		if err := surf.Run(ctx); err != nil {
			log.Error("surface listener stopped", "error", err)
		}
	}()
	go dispatchSurfaceEvents(ctx, surf, r)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.BindAddr, cfg.API.Port),
		Handler: apiServer.Router(),
	}
	go func() {
		log.Info("external API listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("external API server failed", "error", err)
		}
	}()

	waitForShutdownSignal()
	log.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	cancel()
	r.Shutdown()

	return nil
}

// loadControlMap resolves the control map from the configured path, falling
// back to the embedded default table when no path is configured.
func loadControlMap(cfg config.Snapshot) (*controlmap.Table, error) {
	if cfg.Surface.ControlMapPath == "" {
		return controlmap.LoadDefault()
	}
	return controlmap.LoadCached(cfg.Surface.ControlMapPath)
}

// wireOnAirBridge subscribes to the mixer driver's "mixer.selectedCamera"
// indicator and forwards confirmed program-scene changes that map to a
// configured camera to the external API as an on-air event, per the spec's
// derived OnAirChanged emission.
func wireOnAirBridge(mixerDriver *mixer.Driver, apiServer *api.Server, camCfg config.CameraControlConfig) {
	mixerDriver.SubscribeIndicators(func(signal string, value any) {
		if signal != "mixer.selectedCamera" {
			return
		}
		cameraID, ok := value.(string)
		if !ok {
			return
		}
		for _, cam := range camCfg.Cameras {
			if cam.ID == cameraID {
				apiServer.BroadcastOnAirChange(cameraID, cam.Scene)
				return
			}
		}
	})
}

func dispatchSurfaceEvents(ctx context.Context, surf *surface.Surface, r *router.Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-surf.Events():
			if !ok {
				return
			}
			r.HandleControlEvent(ev.ControlID, ev.Value)
		}
	}
}

func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
