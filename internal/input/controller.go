package input

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"gravlauncher/internal/debug"
)

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// DeviceDir holds the evdev nodes, normally /dev/input.
	DeviceDir string
	// SysDir holds the per-node sysfs entries, normally /sys/class/input.
	SysDir string
	// PollInterval is the repeat tick.
	PollInterval time.Duration
	Repeat       RepeatPolicy
	Deadzone     float64
}

// DefaultControllerConfig returns the Linux defaults.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		DeviceDir:    "/dev/input",
		SysDir:       "/sys/class/input",
		PollInterval: 50 * time.Millisecond,
		Repeat:       RepeatPolicy{Delay: 400 * time.Millisecond, Rate: 12},
		Deadzone:     0.5,
	}
}

// Controller reads gamepads and emits navigation commands.
type Controller struct {
	cfg ControllerConfig
	log zerolog.Logger

	// Hooks for tests without real devices.
	openDevice func(path string) (*os.File, error)
	gamepad    func(path string) bool
	settle     time.Duration
}

// NewController returns a Controller for cfg.
func NewController(cfg ControllerConfig) *Controller {
	def := DefaultControllerConfig()
	if cfg.DeviceDir == "" {
		cfg.DeviceDir = def.DeviceDir
	}
	if cfg.SysDir == "" {
		cfg.SysDir = def.SysDir
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	c := &Controller{
		cfg:        cfg,
		log:        debug.Component("input"),
		openDevice: func(path string) (*os.File, error) { return os.Open(path) }, //nolint:gosec // G304: evdev node
		// udev needs a moment to apply permissions to a fresh node.
		settle: 250 * time.Millisecond,
	}
	c.gamepad = func(path string) bool {
		ok, err := isGamepad(c.cfg.SysDir, path)
		return err == nil && ok
	}
	return c
}

// rawMsg carries one event, or the end of a device's stream when closed is
// set, so the loop sees both in order.
type rawMsg struct {
	path   string
	ev     RawEvent
	closed bool
}

type device struct {
	path string
	name string
	f    *os.File
}

// Run reads gamepads until ctx is done, writing events to out. A missing
// device directory or absent gamepad never makes Run fail; it keeps waiting
// for hot-plugged devices.
func (c *Controller) Run(ctx context.Context, out chan<- Event) error {
	raw := make(chan rawMsg, 64)
	devices := map[string]*device{}
	mapper := NewMapper(c.cfg.Repeat, c.cfg.Deadzone)

	defer func() {
		for _, d := range devices {
			_ = d.f.Close()
		}
	}()

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	attach := func(path string) {
		if _, ok := devices[path]; ok || !isEventDevice(path) || !c.gamepad(path) {
			return
		}
		f, err := c.openDevice(path)
		if err != nil {
			c.log.Debug().Err(err).Str("device", path).Msg("cannot open gamepad")
			return
		}
		d := &device{path: path, name: deviceName(c.cfg.SysDir, path), f: f}
		if r, err := readAxisRange(f, absY); err == nil {
			mapper.SetAxisRange(absY, r)
		}
		devices[path] = d
		c.log.Info().Str("device", path).Str("name", d.name).Msg("gamepad connected")
		if len(devices) == 1 {
			emit(Event{Kind: ConnectionEvent, Connected: true, Device: d.name})
		}
		go c.read(ctx, d, raw)
	}

	detach := func(path string) {
		d, ok := devices[path]
		if !ok {
			return
		}
		_ = d.f.Close()
		delete(devices, path)
		mapper.Release()
		c.log.Info().Str("device", path).Msg("gamepad disconnected")
		if len(devices) == 0 {
			emit(Event{Kind: ConnectionEvent, Connected: false, Device: d.name})
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.log.Warn().Err(err).Msg("hot-plug unavailable")
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(c.cfg.DeviceDir); err != nil {
			c.log.Warn().Err(err).Str("dir", c.cfg.DeviceDir).Msg("hot-plug unavailable")
		}
	}

	if entries, err := os.ReadDir(c.cfg.DeviceDir); err == nil {
		for _, e := range entries {
			attach(filepath.Join(c.cfg.DeviceDir, e.Name()))
		}
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if watcher != nil {
		fsEvents, fsErrors = watcher.Events, watcher.Errors
	}
	pending := map[string]time.Time{}

	for {
		select {
		case <-ctx.Done():
			return nil

		case m := <-raw:
			if _, ok := devices[m.path]; !ok {
				continue
			}
			if m.closed {
				detach(m.path)
				continue
			}
			for _, cmd := range mapper.Handle(m.ev, time.Now()) {
				if !emit(Event{Kind: CommandEvent, Command: cmd}) {
					return nil
				}
			}

		case now := <-ticker.C:
			for _, cmd := range mapper.Tick(now) {
				if !emit(Event{Kind: CommandEvent, Command: cmd}) {
					return nil
				}
			}
			for path, due := range pending {
				if now.After(due) {
					delete(pending, path)
					attach(path)
				}
			}

		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if !isEventDevice(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create):
				pending[ev.Name] = time.Now().Add(c.settle)
			case ev.Has(fsnotify.Remove):
				delete(pending, ev.Name)
				detach(ev.Name)
			}

		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			c.log.Warn().Err(err).Msg("hot-plug watcher error")
		}
	}
}

// read forwards raw events from d until the device fails or is closed.
func (c *Controller) read(ctx context.Context, d *device, raw chan<- rawMsg) {
	err := readRawEvents(d.f, func(ev RawEvent) {
		select {
		case raw <- rawMsg{path: d.path, ev: ev}:
		case <-ctx.Done():
		}
	})
	if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
		return
	}
	c.log.Debug().Err(err).Str("device", d.path).Msg("gamepad read ended")
	select {
	case raw <- rawMsg{path: d.path, closed: true}:
	case <-ctx.Done():
	}
}
