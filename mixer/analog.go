package mixer

import (
	"context"
	"sync"
	"time"

	"github.com/jdginn/xtouch-gw/logging"
)

const (
	analogTickInterval = 16 * time.Millisecond // ~60Hz
	analogMaxRetries    = 3
)

// analogRate is per-(scene,source) velocity state driven by a held gamepad
// stick: vx/vy in pixels-per-tick, vs in scale-delta-per-tick, each already
// gain- and gamma-shaped by the caller.
type analogRate struct {
	scene, source string
	vx, vy, vs    float64
}

// analogIntegrator runs a single shared ticker that advances every active
// rate once per tick, applying each as a transform delta. A rate with three
// consecutive failed applies is dropped so one bad source cannot wedge the
// others or spin forever.
type analogIntegrator struct {
	items *itemCache

	mu         sync.Mutex
	rates      map[string]analogRate
	errorCount map[string]int

	running  bool
	stopCh   chan struct{}
	lastTick time.Time
}

func newAnalogIntegrator(items *itemCache) *analogIntegrator {
	return &analogIntegrator{
		items:      items,
		rates:      make(map[string]analogRate),
		errorCount: make(map[string]int),
	}
}

// SetRate applies a partial update to scene/source's velocity: a nil
// pointer keeps the existing value for that axis. A rate that becomes
// all-zero is removed and its error count cleared. Starts or stops the
// shared integration ticker as needed.
func (a *analogIntegrator) SetRate(scene, source string, vx, vy, vs *float64) {
	key := cacheKey(scene, source)

	a.mu.Lock()
	current := a.rates[key]
	current.scene, current.source = scene, source
	if vx != nil {
		current.vx = *vx
	}
	if vy != nil {
		current.vy = *vy
	}
	if vs != nil {
		current.vs = *vs
	}

	if current.vx == 0 && current.vy == 0 && current.vs == 0 {
		delete(a.rates, key)
		delete(a.errorCount, key)
	} else {
		a.rates[key] = current
		delete(a.errorCount, key)
	}
	empty := len(a.rates) == 0
	a.mu.Unlock()

	if empty {
		a.stop()
	} else {
		a.ensureRunning()
	}
}

func (a *analogIntegrator) ensureRunning() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.stopCh = make(chan struct{})
	a.lastTick = time.Now()
	stop := a.stopCh
	a.mu.Unlock()

	go a.run(stop)
	logging.Get(logging.MIXER).Debug("analog integrator started")
}

func (a *analogIntegrator) stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.stopCh)
	a.mu.Unlock()
}

func (a *analogIntegrator) run(stop chan struct{}) {
	ticker := time.NewTicker(analogTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			a.tick(now)
		}
	}
}

func (a *analogIntegrator) tick(now time.Time) {
	a.mu.Lock()
	elapsed := now.Sub(a.lastTick)
	a.lastTick = now
	rates := make([]analogRate, 0, len(a.rates))
	for _, r := range a.rates {
		rates = append(rates, r)
	}
	a.mu.Unlock()

	dt := float64(elapsed) / float64(analogTickInterval)

	for _, r := range rates {
		dx, dy, ds := r.vx*dt, r.vy*dt, r.vs*dt
		if dx == 0 && dy == 0 && ds == 0 {
			continue
		}
		key := cacheKey(r.scene, r.source)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := a.items.applyDelta(ctx, r.scene, r.source, dx, dy, ds)
		cancel()

		if err == nil {
			a.mu.Lock()
			delete(a.errorCount, key)
			a.mu.Unlock()
			continue
		}

		a.mu.Lock()
		a.errorCount[key]++
		count := a.errorCount[key]
		if count >= analogMaxRetries {
			delete(a.rates, key)
			delete(a.errorCount, key)
			empty := len(a.rates) == 0
			a.mu.Unlock()
			logging.Get(logging.MIXER).Warn("dropping analog rate after repeated failures",
				"key", key, "attempts", count, "error", err)
			if empty {
				a.stop()
			}
		} else {
			a.mu.Unlock()
			logging.Get(logging.MIXER).Debug("analog tick error", "key", key, "attempt", count, "error", err)
		}
	}
}

// ActiveRates reports the currently active (scene,source) keys, for tests
// and diagnostics.
func (a *analogIntegrator) ActiveRates() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.rates))
	for k := range a.rates {
		keys = append(keys, k)
	}
	return keys
}
