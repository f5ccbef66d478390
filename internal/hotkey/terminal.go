package hotkey

import (
	"context"
	"sync"
	"unicode"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/phobos/internal/input/key"
)

// TerminalWindow runs a tcell screen as the owning window. Key events that
// match a bound combination are delivered to the hook as WMHotkey messages;
// everything else goes to the fallback key handler.
//
// TerminalWindow is its own Binder: a combination is owned by at most one id,
// and reserved combinations are always refused.
type TerminalWindow struct {
	screen tcell.Screen

	mu       sync.Mutex
	hook     MessageHook
	onKey    func(*tcell.EventKey)
	byCombo  map[key.Combo]int
	byID     map[int]key.Combo
	reserved map[key.Combo]bool
}

// TerminalOption configures a TerminalWindow.
type TerminalOption func(*TerminalWindow)

// WithReserved marks combinations the terminal keeps for itself.
func WithReserved(combos ...key.Combo) TerminalOption {
	return func(w *TerminalWindow) {
		for _, c := range combos {
			w.reserved[c] = true
		}
	}
}

// WithKeyHandler sets the handler for key events that match no binding.
func WithKeyHandler(fn func(*tcell.EventKey)) TerminalOption {
	return func(w *TerminalWindow) {
		w.onKey = fn
	}
}

// NewTerminalWindow wraps screen. Ctrl+C is reserved by default.
func NewTerminalWindow(screen tcell.Screen, opts ...TerminalOption) *TerminalWindow {
	w := &TerminalWindow{
		screen:   screen,
		byCombo:  make(map[key.Combo]int),
		byID:     make(map[int]key.Combo),
		reserved: map[key.Combo]bool{key.NewCombo(key.ModCtrl, key.Letter('c')): true},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewTerminal creates a TerminalWindow over the controlling terminal.
func NewTerminal(opts ...TerminalOption) (*TerminalWindow, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, err
	}
	return NewTerminalWindow(screen, opts...), nil
}

// Init initializes the screen.
func (w *TerminalWindow) Init() error {
	return w.screen.Init()
}

// Shutdown finalizes the screen, which also stops Run.
func (w *TerminalWindow) Shutdown() {
	w.screen.Fini()
}

// Screen returns the underlying screen.
func (w *TerminalWindow) Screen() tcell.Screen {
	return w.screen
}

// Handle returns 0; a terminal has no native window handle.
func (w *TerminalWindow) Handle() uintptr {
	return 0
}

// SetHook installs the message hook.
func (w *TerminalWindow) SetHook(h MessageHook) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hook = h
}

// Bind claims combo ownership for id.
func (w *TerminalWindow) Bind(_ uintptr, id int, mods uint32, vk uint32) error {
	c := key.NewCombo(key.ModifierFromMask(mods), key.VirtualKey(vk))

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.reserved[c] {
		return ErrAlreadyOwned
	}
	if owner, ok := w.byCombo[c]; ok && owner != id {
		return ErrAlreadyOwned
	}
	if old, ok := w.byID[id]; ok {
		delete(w.byCombo, old)
	}
	w.byCombo[c] = id
	w.byID[id] = c
	return nil
}

// Unbind releases the combo held by id.
func (w *TerminalWindow) Unbind(_ uintptr, id int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	c, ok := w.byID[id]
	if !ok {
		return ErrNotBound
	}
	delete(w.byID, id)
	delete(w.byCombo, c)
	return nil
}

// Run pumps screen events until ctx is done or the screen is finalized.
func (w *TerminalWindow) Run(ctx context.Context) error {
	events := make(chan tcell.Event)
	go func() {
		defer close(events)
		for {
			ev := w.screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if kev, isKey := ev.(*tcell.EventKey); isKey {
				w.HandleKey(kev)
			}
		}
	}
}

// HandleKey routes a key event: bound combinations become WMHotkey messages,
// anything unhandled goes to the fallback key handler.
func (w *TerminalWindow) HandleKey(ev *tcell.EventKey) {
	c, ok := ComboFromEvent(ev)

	w.mu.Lock()
	id, bound := w.byCombo[c]
	onKey := w.onKey
	w.mu.Unlock()

	if ok && bound && w.Post(WMHotkey, uintptr(id), 0) {
		return
	}
	if onKey != nil {
		onKey(ev)
	}
}

// Post delivers a message to the hook and reports whether it was handled.
func (w *TerminalWindow) Post(msg uint32, wParam, lParam uintptr) bool {
	w.mu.Lock()
	hook := w.hook
	w.mu.Unlock()

	if hook == nil {
		return false
	}
	return hook(msg, wParam, lParam)
}

// ComboFromEvent converts a tcell key event to a combination.
func ComboFromEvent(ev *tcell.EventKey) (key.Combo, bool) {
	mods := convertMod(ev.Modifiers())
	k := ev.Key()

	switch {
	case k == tcell.KeyRune:
		r := ev.Rune()
		switch {
		case r == ' ':
			return key.NewCombo(mods, key.VKSpace), true
		case unicode.IsUpper(r) && key.Letter(r) != key.VKNone:
			return key.NewCombo(mods.With(key.ModShift), key.Letter(r)), true
		case key.Letter(r) != key.VKNone:
			return key.NewCombo(mods, key.Letter(r)), true
		case key.Digit(r) != key.VKNone:
			return key.NewCombo(mods, key.Digit(r)), true
		}
		return key.Combo{}, false
	case k == tcell.KeyTab:
		return key.NewCombo(mods, key.VKTab), true
	case k == tcell.KeyEnter:
		return key.NewCombo(mods, key.VKEnter), true
	case k == tcell.KeyEscape:
		return key.NewCombo(mods, key.VKEscape), true
	case k == tcell.KeyBackspace || k == tcell.KeyBackspace2:
		return key.NewCombo(mods, key.VKBackspace), true
	case k == tcell.KeyCtrlSpace:
		return key.NewCombo(mods.With(key.ModCtrl), key.VKSpace), true
	case k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ:
		return key.NewCombo(mods.With(key.ModCtrl), key.VKA+key.VirtualKey(k-tcell.KeyCtrlA)), true
	case k >= tcell.KeyF1 && k <= tcell.KeyF24:
		return key.NewCombo(mods, key.Function(int(k-tcell.KeyF1)+1)), true
	}

	if vk, ok := specialKeys[k]; ok {
		return key.NewCombo(mods, vk), true
	}
	return key.Combo{}, false
}

var specialKeys = map[tcell.Key]key.VirtualKey{
	tcell.KeyDelete: key.VKDelete,
	tcell.KeyInsert: key.VKInsert,
	tcell.KeyHome:   key.VKHome,
	tcell.KeyEnd:    key.VKEnd,
	tcell.KeyPgUp:   key.VKPageUp,
	tcell.KeyPgDn:   key.VKPageDown,
	tcell.KeyUp:     key.VKUp,
	tcell.KeyDown:   key.VKDown,
	tcell.KeyLeft:   key.VKLeft,
	tcell.KeyRight:  key.VKRight,
	tcell.KeyPause:  key.VKPause,
	tcell.KeyPrint:  key.VKPrintScreen,
}

// convertMod converts tcell modifiers to our Modifier type.
func convertMod(m tcell.ModMask) key.Modifier {
	var mods key.Modifier
	if m&tcell.ModShift != 0 {
		mods = mods.With(key.ModShift)
	}
	if m&tcell.ModCtrl != 0 {
		mods = mods.With(key.ModCtrl)
	}
	if m&tcell.ModAlt != 0 {
		mods = mods.With(key.ModAlt)
	}
	if m&tcell.ModMeta != 0 {
		mods = mods.With(key.ModWin)
	}
	return mods
}
