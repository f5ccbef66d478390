//go:build windows

package hotkey

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procRegisterHotKey     = user32.NewProc("RegisterHotKey")
	procUnregisterHotKey   = user32.NewProc("UnregisterHotKey")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPeekMessageW       = user32.NewProc("PeekMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
)

const (
	wmQuit = 0x0012
	wmApp  = 0x8000
	wmWake = wmApp + 1
)

type point struct {
	x, y int32
}

type message struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      point
}

// SystemBinder binds through user32 RegisterHotKey/UnregisterHotKey.
// Both calls must run on the thread that owns window; use ThreadPump when
// the host has no window of its own.
type SystemBinder struct{}

// Bind registers the combination for id.
func (SystemBinder) Bind(window uintptr, id int, mods uint32, vk uint32) error {
	r, _, err := procRegisterHotKey.Call(window, uintptr(id), uintptr(mods), uintptr(vk))
	if r == 0 {
		return fmt.Errorf("%w: %v", ErrAlreadyOwned, err)
	}
	return nil
}

// Unbind unregisters id.
func (SystemBinder) Unbind(window uintptr, id int) error {
	r, _, err := procUnregisterHotKey.Call(window, uintptr(id))
	if r == 0 {
		return fmt.Errorf("%w: %v", ErrNotBound, err)
	}
	return nil
}

// ThreadPump is a window-less message loop on a locked OS thread. Hotkeys
// registered with a zero window handle post WMHotkey to the registering
// thread, so ThreadPump runs binder calls on its own thread.
type ThreadPump struct {
	binder SystemBinder

	mu       sync.Mutex
	hook     MessageHook
	threadID uint32
	calls    chan func()
	ready    chan struct{}
	once     sync.Once
}

// NewThreadPump creates a ThreadPump. Call Run before binding.
func NewThreadPump() *ThreadPump {
	return &ThreadPump{
		calls: make(chan func(), 16),
		ready: make(chan struct{}),
	}
}

// Handle returns 0, the thread message queue.
func (p *ThreadPump) Handle() uintptr {
	return 0
}

// SetHook installs the message hook.
func (p *ThreadPump) SetHook(h MessageHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = h
}

// Bind registers on the pump thread.
func (p *ThreadPump) Bind(window uintptr, id int, mods uint32, vk uint32) error {
	return p.do(func() error { return p.binder.Bind(window, id, mods, vk) })
}

// Unbind unregisters on the pump thread.
func (p *ThreadPump) Unbind(window uintptr, id int) error {
	return p.do(func() error { return p.binder.Unbind(window, id) })
}

func (p *ThreadPump) do(fn func() error) error {
	<-p.ready
	done := make(chan error, 1)
	p.calls <- func() { done <- fn() }

	p.mu.Lock()
	tid := p.threadID
	p.mu.Unlock()
	if r, _, err := procPostThreadMessageW.Call(uintptr(tid), wmWake, 0, 0); r == 0 {
		return fmt.Errorf("wake message pump: %w", err)
	}
	return <-done
}

// Run pumps messages on a locked OS thread until ctx is done.
func (p *ThreadPump) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var m message
	// Forces creation of the thread message queue.
	procPeekMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0, 0)

	tid := windows.GetCurrentThreadId()
	p.mu.Lock()
	p.threadID = tid
	p.mu.Unlock()
	p.once.Do(func() { close(p.ready) })

	stop := context.AfterFunc(ctx, func() {
		procPostThreadMessageW.Call(uintptr(tid), wmQuit, 0, 0)
	})
	defer stop()

	for {
		r, _, err := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		switch int32(r) {
		case 0:
			return ctx.Err()
		case -1:
			return fmt.Errorf("GetMessageW: %w", err)
		}

		switch m.message {
		case wmWake:
			p.drain()
		default:
			p.mu.Lock()
			hook := p.hook
			p.mu.Unlock()
			if hook != nil {
				hook(m.message, m.wParam, m.lParam)
			}
		}
	}
}

func (p *ThreadPump) drain() {
	for {
		select {
		case fn := <-p.calls:
			fn()
		default:
			return
		}
	}
}
