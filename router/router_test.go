package router

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/jdginn/xtouch-gw/camera"
	"github.com/jdginn/xtouch-gw/config"
	"github.com/jdginn/xtouch-gw/driver"
)

// fakeDriver is a minimal driver.Driver recording every Execute call and
// letting tests push indicator signals on demand.
type fakeDriver struct {
	driver.Base
	name       string
	executions []execution
	indicators []driver.IndicatorCallback
	syncCount  int
	executeErr error
}

type execution struct {
	action string
	params []any
	ctx    driver.ExecutionContext
}

func newFakeDriver(name string) *fakeDriver { return &fakeDriver{name: name} }

func (d *fakeDriver) Name() string { return d.name }
func (d *fakeDriver) Init(driver.ExecutionContext) error { return nil }
func (d *fakeDriver) Execute(action string, params []any, ctx driver.ExecutionContext) error {
	d.executions = append(d.executions, execution{action: action, params: params, ctx: ctx})
	return d.executeErr
}
func (d *fakeDriver) Sync() error { d.syncCount++; return nil }
func (d *fakeDriver) Shutdown() error { return nil }
func (d *fakeDriver) SubscribeIndicators(cb driver.IndicatorCallback) {
	d.indicators = append(d.indicators, cb)
}
func (d *fakeDriver) emit(signal string, value any) {
	for _, cb := range d.indicators {
		cb(signal, value)
	}
}

// fakeFeedback records every SetIndicator call.
type fakeFeedback struct {
	calls []indicatorCall
}

type indicatorCall struct {
	controlID string
	on        bool
}

func (f *fakeFeedback) SetIndicator(controlID string, on bool) error {
	f.calls = append(f.calls, indicatorCall{controlID: controlID, on: on})
	return nil
}

func newTestCameraStore(t *testing.T) *camera.Store {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0o600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store, err := camera.NewStore(db)
	require.NoError(t, err)
	return store
}

func baseConfig() config.Snapshot {
	return config.Snapshot{
		Pages: []config.PageConfig{
			{
				Name: "main",
				Bindings: map[string]config.ActionTemplate{
					"fader1": {Driver: "mixer", Action: "nudgeX", Params: []any{"Main", "Cam1", 5.0}},
					"btn1":   {Driver: "mixer", Action: "selectCamera", Params: []any{"{camera}", "program"}, Gamepad: "gp1"},
				},
				Indicators: map[string][]config.IndicatorTarget{
					"mixer.selectedCamera": {
						{ControlID: "led_main", OnValue: "Main"},
						{ControlID: "led_side", OnValue: "Side"},
					},
				},
			},
			{
				Name: config.GlobalPageName,
				Bindings: map[string]config.ActionTemplate{
					"global_btn": {Driver: "mixer", Action: "toggleStudioMode"},
				},
			},
		},
	}
}

func TestNewActivatesFirstNonGlobalPage(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "main", r.ActivePage())
}

func TestNewRejectsConfigWithOnlyGlobalPage(t *testing.T) {
	cfg := config.Snapshot{Pages: []config.PageConfig{{Name: config.GlobalPageName}}}
	_, err := New(cfg, newTestCameraStore(t), &fakeFeedback{}, nil)
	assert.Error(t, err)
}

func TestHandleControlEventDispatchesToBoundDriver(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)

	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	r.HandleControlEvent("fader1", 10.0)

	require.Len(t, d.executions, 1)
	assert.Equal(t, "nudgeX", d.executions[0].action)
	assert.Equal(t, []any{"Main", "Cam1", 5.0}, d.executions[0].params)
	assert.Equal(t, "main", d.executions[0].ctx.ActivePage)
}

func TestHandleControlEventFallsBackToGlobalPage(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)

	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	r.HandleControlEvent("global_btn", nil)

	require.Len(t, d.executions, 1)
	assert.Equal(t, "toggleStudioMode", d.executions[0].action)
}

func TestHandleControlEventSilentlyIgnoresUnboundControl(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)
	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	r.HandleControlEvent("no_such_control", 1.0)
	assert.Empty(t, d.executions)
}

func TestHandleControlEventSubstitutesCameraParameter(t *testing.T) {
	cameras := newTestCameraStore(t)
	require.NoError(t, cameras.Set("gp1", "Main"))

	r, err := New(baseConfig(), cameras, &fakeFeedback{}, nil)
	require.NoError(t, err)
	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	r.HandleControlEvent("btn1", nil)

	require.Len(t, d.executions, 1)
	assert.Equal(t, []any{"Main", "program"}, d.executions[0].params)
}

func TestHandleControlEventDropsActionWhenCameraUnresolved(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)
	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	r.HandleControlEvent("btn1", nil)
	assert.Empty(t, d.executions)
}

func TestSwitchPageValidatesAndResyncsDrivers(t *testing.T) {
	cfg := baseConfig()
	cfg.Pages = append(cfg.Pages, config.PageConfig{Name: "second"})

	r, err := New(cfg, newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)
	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	require.NoError(t, r.SwitchPage("second"))
	assert.Equal(t, "second", r.ActivePage())
	assert.Equal(t, 1, d.syncCount)

	assert.Error(t, r.SwitchPage("nonexistent"))
}

func TestApplyConfigKeepsActivePageWhenStillPresent(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)

	next := baseConfig()
	require.NoError(t, r.ApplyConfig(next))
	assert.Equal(t, "main", r.ActivePage())
}

func TestApplyConfigFallsBackWhenActivePageRemoved(t *testing.T) {
	r, err := New(baseConfig(), newTestCameraStore(t), &fakeFeedback{}, nil)
	require.NoError(t, err)

	next := config.Snapshot{Pages: []config.PageConfig{{Name: "renamed"}}}
	require.NoError(t, r.ApplyConfig(next))
	assert.Equal(t, "renamed", r.ActivePage())
}

func TestIndicatorDispatchSelectsTargetAndSuppressesOthers(t *testing.T) {
	feedback := &fakeFeedback{}
	r, err := New(baseConfig(), newTestCameraStore(t), feedback, nil)
	require.NoError(t, err)

	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	d.emit("mixer.selectedCamera", "Main")

	require.Len(t, feedback.calls, 2)
	for _, c := range feedback.calls {
		if c.controlID == "led_main" {
			assert.True(t, c.on)
		}
		if c.controlID == "led_side" {
			assert.False(t, c.on)
		}
	}
}

func TestIndicatorDispatchSuppressesIdenticalRepeats(t *testing.T) {
	feedback := &fakeFeedback{}
	r, err := New(baseConfig(), newTestCameraStore(t), feedback, nil)
	require.NoError(t, err)

	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	d.emit("mixer.selectedCamera", "Main")
	firstCount := len(feedback.calls)
	d.emit("mixer.selectedCamera", "Main")

	assert.Len(t, feedback.calls, firstCount, "identical repeat should not re-dispatch indicator updates")
}

func TestIndicatorDispatchIgnoresSignalWithNoTargets(t *testing.T) {
	feedback := &fakeFeedback{}
	r, err := New(baseConfig(), newTestCameraStore(t), feedback, nil)
	require.NoError(t, err)

	d := newFakeDriver("mixer")
	r.RegisterDriver(d)

	d.emit("mixer.unmapped", "anything")
	assert.Empty(t, feedback.calls)
}
