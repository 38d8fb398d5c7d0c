// control/hotreload.go
// Global hot-reload hooks. Hooks observe the default store.

package control

import "sync"

var (
	hooksMu     sync.Mutex
	reloadHooks []func()
)

func init() {
	defaultStore.OnReload(TriggerHotReloadSync)
}

// RegisterReloadHook adds a component reload listener.
func RegisterReloadHook(fn func()) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// TriggerHotReloadSync invokes all reload hooks in registration order.
func TriggerHotReloadSync() {
	for _, fn := range hooks() {
		fn()
	}
}

func hooks() []func() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return append([]func(){}, reloadHooks...)
}
