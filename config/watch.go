package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/semihalev/zlog/v2"
)

// Watcher re-resolves the configuration whenever the main config file or
// its drop-in directory changes, swapping the active *Config atomically.
// A reload that would fail to produce a valid configuration is logged
// and discarded; the previously active value stays in effect, so a bad
// edit never takes the server below "has DNS servers configured."
type Watcher struct {
	active *atomic.Pointer[Config]

	mu       sync.Mutex
	onReload []func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching cfg.ConfigPath and cfg.DropinDir for
// changes. The initial value of Current() is cfg itself.
func NewWatcher(cfg *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(filepath.Dir(cfg.ConfigPath)); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(cfg.DropinDir); err != nil {
		// The drop-in directory is optional; resolved.conf.d may not
		// exist at all on a minimal install.
		zlog.Debug("Drop-in directory not watchable", "dir", cfg.DropinDir, "error", err.Error())
	}

	active := &atomic.Pointer[Config]{}
	active.Store(cfg)

	w := &Watcher{
		active:  active,
		watcher: fw,
		done:    make(chan struct{}),
	}

	go w.run(cfg)

	return w, nil
}

// Current returns the most recently, successfully resolved configuration.
func (w *Watcher) Current() *Config {
	return w.active.Load()
}

// OnReload registers fn to run after every successful reload, with the
// newly active configuration. Components that hold onto config-derived
// state across process lifetime (bound sockets, for example) use this
// to rebuild it; components that simply call Current() on every
// operation, like upstream.Resolver, don't need to.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.watcher.Close()
}

func (w *Watcher) run(seed *Config) {
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.reload(seed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			zlog.Warn("Config watcher error", "error", err.Error())
		}
	}
}

func (w *Watcher) reload(seed *Config) {
	next, err := LoadWithSources(seed.ConfigPath, seed.DropinDir, seed.ResolvConf,
		networkctlSource{}, resolvConfSource{path: seed.ResolvConf})
	if err != nil {
		zlog.Error("Config reload failed, keeping previous configuration", "error", err.Error())
		return
	}

	zlog.Info("Configuration reloaded", "path", seed.ConfigPath, "dns", len(next.DNS))
	w.active.Store(next)

	w.mu.Lock()
	callbacks := append([]func(*Config){}, w.onReload...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(next)
	}
}
