// Package logging provides per-category structured loggers shared across the
// gateway, with levels adjustable at runtime over an embedded OSC surface.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

type LogCategory string

const (
	META     LogCategory = "meta" // For logs about logging itself
	MIDI_IN  LogCategory = "midi_in"
	MIDI_OUT LogCategory = "midi_out"
	ROUTER   LogCategory = "router"
	MIXER    LogCategory = "mixer"
	CAMERA   LogCategory = "camera"
	API      LogCategory = "api"
	ACTIVITY LogCategory = "activity"
)

func strToLogCategory(s string) (LogCategory, bool) {
	switch s {
	case "meta":
		return META, true
	case "midi_in":
		return MIDI_IN, true
	case "midi_out":
		return MIDI_OUT, true
	case "router":
		return ROUTER, true
	case "mixer":
		return MIXER, true
	case "camera":
		return CAMERA, true
	case "api":
		return API, true
	case "activity":
		return ACTIVITY, true
	default:
		return "", false
	}
}

const (
	LOGGER_OSC_LISTEN_IP   = "0.0.0.0"
	LOGGER_OSC_LISTEN_PORT = 9085
)

// Dispatcher implements osc.Dispatcher, routing every inbound message to the
// runtime log-level handler.
type Dispatcher struct{}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

func (s *Dispatcher) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	default:
		return
	case *osc.Message:
		HandleOSCSetCategoryLevel(p)
	}
}

type OscRouter struct {
	Server     *osc.Server
	Dispatcher osc.Dispatcher

	serverIP   string
	serverPort int
}

func (o *OscRouter) Run() error {
	o.Server = &osc.Server{
		Addr:       fmt.Sprintf("%s:%d", o.serverIP, o.serverPort),
		Dispatcher: o.Dispatcher,
	}
	return o.Server.ListenAndServe()
}

var (
	mu               sync.RWMutex
	loggers          = map[LogCategory]*slog.Logger{}
	categoryLvls     = map[LogCategory]*slog.LevelVar{}
	defaultLogLevels = map[LogCategory]slog.Level{
		META:     slog.LevelInfo,
		MIDI_IN:  slog.LevelWarn,
		MIDI_OUT: slog.LevelWarn,
		ROUTER:   slog.LevelInfo,
		MIXER:    slog.LevelWarn,
		CAMERA:   slog.LevelWarn,
		API:      slog.LevelInfo,
		ACTIVITY: slog.LevelWarn,
	}
	oscRouter   *OscRouter
	oscRouterMu sync.Once
)

// StartOSCControlSurface starts the live log-level OSC listener. It is not
// started automatically on import (unlike the teacher's package-level init)
// so that tests and embedders can opt in, or bind a different port.
func StartOSCControlSurface() error {
	var startErr error
	oscRouterMu.Do(func() {
		dispatcher := NewDispatcher()
		oscRouter = &OscRouter{
			Dispatcher: dispatcher,
			serverIP:   LOGGER_OSC_LISTEN_IP,
			serverPort: LOGGER_OSC_LISTEN_PORT,
		}
		go func() {
			if err := oscRouter.Run(); err != nil {
				Get(META).Error("OSC log-level control surface stopped", "error", err)
			}
		}()
	})
	return startErr
}

// Get returns a slog.Logger that always has the "category" attribute set.
// Each category gets its own cached logger instance.
func Get(category LogCategory) *slog.Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		lvlVar.Set(defaultLogLevels[category])
		categoryLvls[category] = lvlVar
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvlVar,
	})
	catLogger := slog.New(handler).With("category", category)
	loggers[category] = catLogger
	return catLogger
}

func SetCategoryLevel(category LogCategory, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		categoryLvls[category] = lvlVar
	}
	lvlVar.Set(level)
}

func splitOscPath(path string) []string {
	segs := strings.Split(path, "/")
	if len(segs) == 0 {
		return segs
	}
	return segs[1:]
}

// HandleOSCSetCategoryLevel implements the runtime log-level route:
//
//	/meta/logging/{category}/level  int32  (-4=Debug, 0=Info, 4=Warn, 8=Error)
func HandleOSCSetCategoryLevel(msg *osc.Message) {
	pathSegs := splitOscPath(msg.Address)
	if len(pathSegs) < 2 || pathSegs[0] != "meta" || pathSegs[1] != "logging" {
		return
	}
	if len(pathSegs) == 4 && pathSegs[3] == "level" {
		cat, ok := strToLogCategory(pathSegs[2])
		if !ok {
			Get(META).Info("unrecognized log category in OSC message", "category", pathSegs[2])
			return
		}
		if len(msg.Arguments) == 0 {
			return
		}
		level, ok := msg.Arguments[0].(int32)
		if !ok {
			Get(META).Error("invalid level type in OSC message", "expected", "int32", "got", fmt.Sprintf("%T", msg.Arguments[0]))
			return
		}
		Get(META).Info("setting category level via OSC", "category", cat, "level", level)
		SetCategoryLevel(cat, slog.Level(level))
	}
}
