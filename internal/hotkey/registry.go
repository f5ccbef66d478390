package hotkey

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dshills/phobos/internal/input/key"
	"github.com/dshills/phobos/internal/logging"
)

// Callback is invoked on the message pump goroutine when a hotkey fires.
type Callback func()

// Info describes one global shortcut.
type Info struct {
	// ID is the caller-chosen logical id.
	ID string

	// Mods is the modifier set.
	Mods key.Modifier

	// Key is the primary key.
	Key key.VirtualKey

	// Callback runs when the combination fires.
	Callback Callback

	osID int
}

// NewInfo creates an Info from a combo.
func NewInfo(id string, combo key.Combo, cb Callback) Info {
	return Info{ID: id, Mods: combo.Mods, Key: combo.Key, Callback: cb}
}

// Combo returns the key combination.
func (i Info) Combo() key.Combo {
	return key.NewCombo(i.Mods, i.Key)
}

// GetDisplayString renders the combination, e.g. "Ctrl + Alt + T".
func (i Info) GetDisplayString() string {
	return i.Combo().String()
}

// OSID returns the numeric id assigned at registration, or 0.
func (i Info) OSID() int {
	return i.osID
}

// Registry maps numeric OS ids to hotkeys and logical ids to numeric ids.
//
// Binder calls may block on the message pump, so the pump hook never takes
// mu. It reads fired, a copy of byOSID republished after every change.
type Registry struct {
	mu     sync.Mutex
	binder Binder
	window Window
	nextID int
	byOSID map[int]*Info
	byName map[string]int
	fired  atomic.Pointer[map[int]Info]
	logger *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates a registry that binds through b.
func NewRegistry(b Binder, opts ...Option) *Registry {
	r := &Registry{
		binder: b,
		nextID: 1,
		byOSID: make(map[int]*Info),
		byName: make(map[string]int),
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("hotkey")
	r.publish()
	return r
}

// publish snapshots byOSID for the message hook. Callers hold mu.
func (r *Registry) publish() {
	snap := make(map[int]Info, len(r.byOSID))
	for id, info := range r.byOSID {
		snap[id] = *info
	}
	r.fired.Store(&snap)
}

// Initialize binds the registry to w and installs the message hook.
// Calling it again while bound is a no-op.
func (r *Registry) Initialize(w Window) error {
	if w == nil {
		return ErrNoWindow
	}

	r.mu.Lock()
	if r.window != nil {
		r.mu.Unlock()
		r.logger.Info("hotkey registry already initialized")
		return nil
	}
	r.window = w
	r.mu.Unlock()

	w.SetHook(r.handleMessage)
	return nil
}

// Initialized reports whether a window is bound.
func (r *Registry) Initialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window != nil
}

// Register binds info. An existing registration for the same logical id is
// released first. Returns false if the registry is not initialized, info is
// invalid, or the OS refuses the combination; in that case the previous
// registration for the id, if any, stays in place.
func (r *Registry) Register(info Info) bool {
	if info.ID == "" || info.Key == key.VKNone || info.Callback == nil {
		r.logger.Debug("invalid hotkey", "id", info.ID, "key", info.Key.String())
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.window == nil {
		r.logger.Warn("hotkey registry not initialized", "id", info.ID)
		return false
	}
	handle := r.window.Handle()

	var prior *Info
	if oldID, ok := r.byName[info.ID]; ok {
		prior = r.byOSID[oldID]
		if err := r.binder.Unbind(handle, oldID); err != nil {
			r.logger.Warn("failed to release hotkey", "id", info.ID, "os_id", oldID, "error", err)
		}
	}

	id := r.nextID
	mask := info.Mods.Mask() | key.MaskNoRepeat
	if err := r.binder.Bind(handle, id, mask, uint32(info.Key)); err != nil {
		r.logger.Warn("hotkey binding refused",
			"id", info.ID,
			"combo", info.GetDisplayString(),
			"error", err,
		)
		if prior != nil {
			r.restore(handle, prior)
			r.publish()
		}
		return false
	}

	if prior != nil {
		delete(r.byOSID, prior.osID)
	}
	r.nextID++
	info.osID = id
	r.byOSID[id] = &info
	r.byName[info.ID] = id
	r.publish()

	r.logger.Debug("hotkey registered", "id", info.ID, "os_id", id, "combo", info.GetDisplayString())
	return true
}

// restore re-binds a registration released during a failed replace.
func (r *Registry) restore(handle uintptr, prior *Info) {
	mask := prior.Mods.Mask() | key.MaskNoRepeat
	if err := r.binder.Bind(handle, prior.osID, mask, uint32(prior.Key)); err != nil {
		r.logger.Error("failed to restore hotkey", "id", prior.ID, "os_id", prior.osID, "error", err)
		delete(r.byOSID, prior.osID)
		delete(r.byName, prior.ID)
	}
}

// Unregister releases the hotkey with the given logical id. Returns false
// for unknown ids.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	osID, ok := r.byName[id]
	if !ok {
		return false
	}
	if r.window != nil {
		if err := r.binder.Unbind(r.window.Handle(), osID); err != nil {
			r.logger.Warn("failed to release hotkey", "id", id, "os_id", osID, "error", err)
		}
	}
	delete(r.byOSID, osID)
	delete(r.byName, id)
	r.publish()
	return true
}

// Lookup returns the registration for a logical id.
func (r *Registry) Lookup(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	osID, ok := r.byName[id]
	if !ok {
		return Info{}, false
	}
	return *r.byOSID[osID], true
}

// List returns all registrations ordered by numeric id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.byOSID))
	for _, info := range r.byOSID {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].osID < out[j].osID })
	return out
}

// Len returns the number of live registrations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOSID)
}

// Dispose releases every binding, removes the hook and clears the window so
// the registry can be initialized again.
func (r *Registry) Dispose() {
	r.mu.Lock()
	w := r.window
	if w != nil {
		handle := w.Handle()
		for osID, info := range r.byOSID {
			if err := r.binder.Unbind(handle, osID); err != nil {
				r.logger.Warn("failed to release hotkey", "id", info.ID, "os_id", osID, "error", err)
			}
		}
	}
	r.byOSID = make(map[int]*Info)
	r.byName = make(map[string]int)
	r.window = nil
	r.publish()
	r.mu.Unlock()

	if w != nil {
		w.SetHook(nil)
	}
}

// handleMessage is the message hook. It looks the fired id up in the
// published snapshot, so it never waits on a Register or Dispose that is
// itself waiting on the pump, and recovers callback panics.
func (r *Registry) handleMessage(msg uint32, wParam, _ uintptr) bool {
	if msg != WMHotkey {
		return false
	}

	info, ok := (*r.fired.Load())[int(wParam)]
	if !ok {
		return false
	}
	r.invoke(info.ID, info.Callback)
	return true
}

func (r *Registry) invoke(id string, cb Callback) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("hotkey callback panicked", "id", id, "panic", fmt.Sprint(p))
		}
	}()
	cb()
}
