package config

import (
	"sync"

	"PRelay/global/config"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watcher re-reads the config file when it changes and hands the new snapshot
// to the registered callbacks. Only settings that are safe to change on a live
// node (log level today) should be acted on by callbacks.
type Watcher struct {
	log *zap.Logger
	v   *viper.Viper

	mu      sync.RWMutex
	current config.Config
	subs    []func(old, cur config.Config)
}

// NewWatcher reads path once and returns a watcher seeded with that snapshot.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	v := config.NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	cur, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{log: log.Named("config"), v: v, current: cur}, nil
}

// OnChange registers f to run after every successful reload.
func (w *Watcher) OnChange(f func(old, cur config.Config)) {
	w.mu.Lock()
	w.subs = append(w.subs, f)
	w.mu.Unlock()
}

// Current returns the latest valid snapshot.
func (w *Watcher) Current() config.Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching the file. Invalid edits are logged and ignored.
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.v.WatchConfig()
}

func (w *Watcher) reload(name string) {
	cur, err := config.Decode(w.v)
	if err != nil {
		w.log.Warn("config reload rejected", zap.String("file", name), zap.Error(err))
		return
	}
	w.mu.Lock()
	old := w.current
	w.current = cur
	subs := append([]func(old, cur config.Config){}, w.subs...)
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.String("file", name))
	for _, f := range subs {
		f(old, cur)
	}
}
