// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with typed accessors and reload propagation.

package control

import (
	"maps"
	"sync"
	"time"
)

// Well-known runtime tunables.
const (
	KeyFiberStackSize     = "fiber.stack_size"
	KeyReactorMaxTimeout  = "reactor.max_timeout"
	KeyReactorMaxEvents   = "reactor.max_events"
	KeyHookConnectTimeout = "hook.connect_timeout"
	KeyServerRecvTimeout  = "tcpserver.recv_timeout"
	KeyLogDebug           = "log.debug"
)

// Defaults returns the built-in value of every well-known key. A negative
// duration means "no timeout".
func Defaults() map[string]any {
	return map[string]any{
		KeyFiberStackSize:     128000,
		KeyReactorMaxTimeout:  5 * time.Second,
		KeyReactorMaxEvents:   256,
		KeyHookConnectTimeout: time.Duration(-1),
		KeyServerRecvTimeout:  2 * time.Minute,
		KeyLogDebug:           false,
	}
}

// ConfigStore is a dynamic key/value map with snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a store holding Defaults.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{config: Defaults()}
}

var defaultStore = NewConfigStore()

// Default returns the process-wide store.
func Default() *ConfigStore { return defaultStore }

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return maps.Clone(cs.config)
}

// Get returns the raw value stored under key.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// Set stores a single value and dispatches reload.
func (cs *ConfigStore) Set(key string, value any) {
	cs.SetConfig(map[string]any{key: value})
}

// SetConfig merges new values and dispatches reload.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// OnReload registers a listener called synchronously after every change.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Int returns key as an int, or def when missing or of another type.
func (cs *ConfigStore) Int(key string, def int) int {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint32:
		return int(n)
	}
	return def
}

// Duration returns key as a time.Duration. Plain integers are read as
// milliseconds.
func (cs *ConfigStore) Duration(key string, def time.Duration) time.Duration {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case time.Duration:
		return d
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case string:
		if p, err := time.ParseDuration(d); err == nil {
			return p
		}
	}
	return def
}

// Bool returns key as a bool, or def.
func (cs *ConfigStore) Bool(key string, def bool) bool {
	v, ok := cs.Get(key)
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// Debug reports whether debug logging is switched on in the default store.
func Debug() bool { return defaultStore.Bool(KeyLogDebug, false) }
