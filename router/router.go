// Package router implements the page/event router: it tracks which page is
// active, evaluates control->action bindings against the active (and
// global) page, substitutes {camera} parameters from the camera-target
// store, dispatches to the named driver, and translates driver indicator
// signals back into surface LED state.
package router

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/jdginn/xtouch-gw/camera"
	"github.com/jdginn/xtouch-gw/config"
	"github.com/jdginn/xtouch-gw/driver"
	"github.com/jdginn/xtouch-gw/logging"
)

// Feedback is the narrow surface capability the router needs to translate
// indicator signals into LED state; satisfied by *surface.Surface.
type Feedback interface {
	SetIndicator(controlID string, on bool) error
}

// Router is the composition root's event hub: one per process, holding
// every driver, the current configuration snapshot, the camera-target
// store, and the active page.
type Router struct {
	activity driver.ActivityRecorder
	cameras  *camera.Store
	feedback Feedback

	driversMu sync.RWMutex
	drivers   map[string]driver.Driver

	mu     sync.RWMutex
	cfg    config.Snapshot
	active string

	indicatorMu   sync.Mutex
	lastSentValue map[string]any
}

// New returns a Router with the first non-global page of cfg active. cfg
// must already have passed config.Validate (Load does this); New revalidates
// defensively since a caller may construct a Snapshot by hand in tests.
func New(cfg config.Snapshot, cameras *camera.Store, feedback Feedback, activity driver.ActivityRecorder) (*Router, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	initial, ok := firstNonGlobalPage(cfg)
	if !ok {
		return nil, fmt.Errorf("router: configuration has no non-global page to activate")
	}
	return &Router{
		activity:      activity,
		cameras:       cameras,
		feedback:      feedback,
		drivers:       make(map[string]driver.Driver),
		cfg:           cfg,
		active:        initial,
		lastSentValue: make(map[string]any),
	}, nil
}

func firstNonGlobalPage(cfg config.Snapshot) (string, bool) {
	for _, p := range cfg.Pages {
		if p.Name != config.GlobalPageName {
			return p.Name, true
		}
	}
	return "", false
}

// RegisterDriver adds d to the router under d.Name() and subscribes to its
// indicator signals. Call before Init.
func (r *Router) RegisterDriver(d driver.Driver) {
	r.driversMu.Lock()
	r.drivers[d.Name()] = d
	r.driversMu.Unlock()
	d.SubscribeIndicators(func(signal string, value any) {
		r.handleIndicator(signal, value)
	})
}

func (r *Router) driver(name string) (driver.Driver, bool) {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	d, ok := r.drivers[name]
	return d, ok
}

// Drivers returns every registered driver, for composition-root shutdown
// ordering and for the activity poller's driver-name enumeration.
func (r *Router) Drivers() []driver.Driver {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	out := make([]driver.Driver, 0, len(r.drivers))
	for _, d := range r.drivers {
		out = append(out, d)
	}
	return out
}

// Init calls Init on every registered driver. A driver's Init failure is
// returned immediately; callers typically treat this as a fatal startup
// error, unlike runtime Execute failures which the router merely logs.
func (r *Router) Init() error {
	ctx := driver.ExecutionContext{ActivePage: r.ActivePage(), Activity: r.activity}
	for name, d := range r.snapshotDrivers() {
		if err := d.Init(ctx); err != nil {
			return fmt.Errorf("router: driver %q failed to initialize: %w", name, err)
		}
	}
	return nil
}

func (r *Router) snapshotDrivers() map[string]driver.Driver {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	out := make(map[string]driver.Driver, len(r.drivers))
	for k, v := range r.drivers {
		out[k] = v
	}
	return out
}

// ActivePage returns the name of the currently active page.
func (r *Router) ActivePage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Router) findPage(name string) (config.PageConfig, bool) {
	for _, p := range r.cfg.Pages {
		if p.Name == name {
			return p, true
		}
	}
	return config.PageConfig{}, false
}

// SwitchPage validates name exists among the configured pages, makes it
// active, and re-syncs every driver so indicators for the new page are
// re-emitted. The outgoing page's leave hook is presently a no-op, per spec.
func (r *Router) SwitchPage(name string) error {
	r.mu.Lock()
	if _, ok := r.findPage(name); !ok {
		r.mu.Unlock()
		return fmt.Errorf("router: unknown page %q", name)
	}
	r.active = name
	r.mu.Unlock()

	// Forget previously sent values so re-synced indicators reach the new
	// page's LEDs even when their values have not changed.
	r.indicatorMu.Lock()
	r.lastSentValue = make(map[string]any)
	r.indicatorMu.Unlock()

	logging.Get(logging.ROUTER).Info("switched active page", "page", name)
	for pname, d := range r.snapshotDrivers() {
		if err := d.Sync(); err != nil {
			logging.Get(logging.ROUTER).Warn("driver sync failed on page switch", "driver", pname, "error", err)
		}
	}
	return nil
}

// ApplyConfig hot-swaps the configuration snapshot. If the currently active
// page still exists in the new configuration it remains active; otherwise
// the first non-global page of the new configuration is activated. Every
// driver is re-synced afterward so bindings and indicators reflect the new
// snapshot.
func (r *Router) ApplyConfig(cfg config.Snapshot) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.cfg = cfg
	if _, ok := r.findPage(r.active); !ok {
		if next, ok := firstNonGlobalPage(cfg); ok {
			r.active = next
		}
	}
	active := r.active
	r.mu.Unlock()

	r.indicatorMu.Lock()
	r.lastSentValue = make(map[string]any)
	r.indicatorMu.Unlock()

	logging.Get(logging.ROUTER).Info("applied configuration snapshot", "active_page", active)
	for name, d := range r.snapshotDrivers() {
		if err := d.Sync(); err != nil {
			logging.Get(logging.ROUTER).Warn("driver sync failed on config reload", "driver", name, "error", err)
		}
	}
	return nil
}

// findBinding looks up controlID's binding in the active page, falling back
// to the reserved global page.
func (r *Router) findBinding(controlID string) (config.ActionTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if active, ok := r.findPage(r.active); ok {
		if b, ok := active.Bindings[controlID]; ok {
			return b, true
		}
	}
	if global, ok := r.findPage(config.GlobalPageName); ok {
		if b, ok := global.Bindings[controlID]; ok {
			return b, true
		}
	}
	return config.ActionTemplate{}, false
}

// HandleControlEvent resolves controlID's binding for the active page (or
// the global fallback), substitutes {camera} parameters, and dispatches to
// the bound driver. Missing bindings are silently ignored (most controls on
// a physical surface have no binding on most pages); unresolved {camera}
// substitutions and driver failures are logged, never propagated — a single
// bad event must never crash the router.
func (r *Router) HandleControlEvent(controlID string, value any) {
	binding, ok := r.findBinding(controlID)
	if !ok {
		return
	}

	log := logging.Get(logging.ROUTER)

	params, ok := r.substituteParams(binding)
	if !ok {
		log.Warn("dropping action, unresolved {camera} parameter", "control_id", controlID, "gamepad", binding.Gamepad)
		return
	}

	d, ok := r.driver(binding.Driver)
	if !ok {
		log.Warn("dropping action, unknown driver", "control_id", controlID, "driver", binding.Driver)
		return
	}

	ctx := driver.ExecutionContext{
		ActivePage: r.ActivePage(),
		Value:      value,
		ControlID:  controlID,
		Activity:   r.activity,
	}
	if r.activity != nil {
		r.activity.Record(binding.Driver, driver.Inbound)
	}

	if err := d.Execute(binding.Action, params, ctx); err != nil {
		log.Error("driver action failed", "control_id", controlID, "driver", binding.Driver, "action", binding.Action, "error", err)
	}
}

const cameraPlaceholder = "{camera}"

// substituteParams resolves any literal "{camera}" parameter against the
// camera-target store, keyed by the binding's Gamepad slot. Returns false if
// the binding references {camera} but no camera is currently assigned.
func (r *Router) substituteParams(binding config.ActionTemplate) ([]any, bool) {
	out := make([]any, len(binding.Params))
	for i, p := range binding.Params {
		s, isString := p.(string)
		if !isString || s != cameraPlaceholder {
			out[i] = p
			continue
		}
		cameraID, ok := r.cameras.Get(binding.Gamepad)
		if !ok {
			return nil, false
		}
		out[i] = cameraID
	}
	return out, true
}

// handleIndicator translates a driver's (signal, value) emission into LED
// state using the active page's indicator wiring, falling back to the
// global page. Identical repeat values for the same signal are suppressed
// before reaching the surface (generalizing the spec's
// obs.selectedScene-specific dedup to every signal, since the same
// motorized-LED feedback-loop concern applies to all of them).
func (r *Router) handleIndicator(signal string, value any) {
	r.indicatorMu.Lock()
	if prev, ok := r.lastSentValue[signal]; ok && reflect.DeepEqual(prev, value) {
		r.indicatorMu.Unlock()
		return
	}
	r.lastSentValue[signal] = value
	r.indicatorMu.Unlock()

	targets := r.indicatorTargets(signal)
	if len(targets) == 0 {
		return
	}
	log := logging.Get(logging.ROUTER)
	for _, t := range targets {
		on := reflect.DeepEqual(t.OnValue, value)
		if err := r.feedback.SetIndicator(t.ControlID, on); err != nil {
			log.Warn("failed to set indicator LED", "signal", signal, "control_id", t.ControlID, "error", err)
		}
	}
}

func (r *Router) indicatorTargets(signal string) []config.IndicatorTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if active, ok := r.findPage(r.active); ok {
		if t, ok := active.Indicators[signal]; ok {
			return t
		}
	}
	if global, ok := r.findPage(config.GlobalPageName); ok {
		if t, ok := global.Indicators[signal]; ok {
			return t
		}
	}
	return nil
}

// Shutdown shuts down every registered driver. Failures are logged and do
// not stop the remaining drivers from shutting down.
func (r *Router) Shutdown() {
	for name, d := range r.snapshotDrivers() {
		if err := d.Shutdown(); err != nil {
			logging.Get(logging.ROUTER).Warn("driver shutdown failed", "driver", name, "error", err)
		}
	}
}
