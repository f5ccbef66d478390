package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/phobos/internal/boot"
	"github.com/dshills/phobos/internal/event"
	"github.com/dshills/phobos/internal/hotkey"
	"github.com/dshills/phobos/internal/input/key"
	"github.com/dshills/phobos/internal/plugin"
	"github.com/dshills/phobos/internal/plugin/capability"
	"github.com/dshills/phobos/internal/protocol"
)

// Host commands reachable through Request, boot items and hotkeys.
const (
	CommandOpen    = "open"
	CommandPlugins = "plugins"
)

// DispatchEvent is published on event.TopicProtocolDispatched.
type DispatchEvent struct {
	URL       string
	Scheme    string
	PackageID string
	Command   string
	Prompted  bool
	Success   bool
}

// HotkeyEvent is published on event.TopicHotkeyFired.
type HotkeyEvent struct {
	ID      string
	Command string
	Success bool
}

func (app *Application) registerHostCommands() {
	app.router.Handle(CommandOpen, func(ctx context.Context, _ capability.CallerContext, args string) capability.Result {
		res, err := app.Open(ctx, args)
		if err != nil {
			return capability.Fail(dispatchKind(err), err.Error())
		}
		return res
	})
	app.router.Handle(CommandPlugins, func(context.Context, capability.CallerContext, string) capability.Result {
		list := app.manager.List()
		return capability.OK(fmt.Sprintf("%d plugins", len(list)), list)
	})
}

// Open dispatches rawURL to the plugin that handles its scheme. The
// plugin's run hook receives a JSON payload with url, scheme and command.
func (app *Application) Open(ctx context.Context, rawURL string) (capability.Result, error) {
	resolution, err := app.resolver.Resolve(ctx, rawURL)
	if err != nil {
		return capability.Result{}, &DispatchError{URL: rawURL, Err: err}
	}
	h := resolution.Handler
	if c, ok := capability.CallerFrom(ctx); ok && c.PackageID == h.PackageID {
		return capability.Result{}, &DispatchError{URL: rawURL, PackageID: h.PackageID, Err: ErrReentrant}
	}

	payload, err := dispatchPayload(rawURL, resolution.Scheme, h)
	if err != nil {
		return capability.Result{}, &DispatchError{URL: rawURL, PackageID: h.PackageID, Err: err}
	}

	res, err := app.manager.Run(ctx, h.PackageID, payload)
	ev := DispatchEvent{
		URL:       rawURL,
		Scheme:    resolution.Scheme,
		PackageID: h.PackageID,
		Command:   h.Command,
		Prompted:  resolution.Prompted,
		Success:   err == nil && res.Success,
	}
	app.publish(ctx, event.TopicProtocolDispatched, ev)

	if err != nil {
		return capability.Result{}, &DispatchError{URL: rawURL, PackageID: h.PackageID, Err: err}
	}
	app.logger.Info("url dispatched", "url", rawURL, "package", h.PackageID, "prompted", resolution.Prompted)
	return res, nil
}

func dispatchKind(err error) capability.Kind {
	switch {
	case errors.Is(err, protocol.ErrNoScheme),
		errors.Is(err, protocol.ErrNoHandler),
		errors.Is(err, protocol.ErrSelectionRequired),
		errors.Is(err, protocol.ErrSelectionCanceled):
		return capability.KindValidation
	case errors.Is(err, ErrReentrant),
		errors.Is(err, plugin.ErrNotRunning),
		errors.Is(err, plugin.ErrPluginNotFound):
		return capability.KindConflict
	default:
		return capability.KindPersistence
	}
}

func dispatchPayload(rawURL, scheme string, h protocol.Handler) (string, error) {
	doc := `{}`
	var err error
	if doc, err = sjson.Set(doc, "url", rawURL); err != nil {
		return "", err
	}
	if doc, err = sjson.Set(doc, "scheme", scheme); err != nil {
		return "", err
	}
	return sjson.Set(doc, "command", h.Command)
}

// Execute runs command with args on the host's behalf: a registered host
// or plugin command through the router, otherwise the run hook of the
// plugin whose package id is command.
func (app *Application) Execute(ctx context.Context, command, args string) (capability.Result, error) {
	if app.router.HasCommand(command) {
		return app.router.Invoke(ctx, HostID, command, args), nil
	}
	if _, ok := app.manager.Get(command); ok {
		return app.manager.Run(ctx, command, args)
	}
	return capability.Result{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

// Boot runs every registered boot item. A failing item is recorded and
// the rest still run.
func (app *Application) Boot(ctx context.Context) (boot.Report, error) {
	runner := boot.NewRunner(app.boots, boot.ExecutorFunc(app.executeBootItem), app.logger)
	rep, err := runner.Run(ctx)
	app.publish(ctx, event.TopicBootCompleted, rep)
	return rep, err
}

// executeBootItem runs a router command when one is registered under the
// item's command, else the owning plugin's run hook with a payload that
// names the item.
func (app *Application) executeBootItem(ctx context.Context, item boot.Item) error {
	var res capability.Result
	if app.router.HasCommand(item.Command) {
		res = app.router.Invoke(ctx, item.PackageID, item.Command, item.Args)
	} else {
		payload, err := bootPayload(item)
		if err != nil {
			return err
		}
		if res, err = app.manager.Run(ctx, item.PackageID, payload); err != nil {
			return err
		}
	}
	return res.Err()
}

func bootPayload(item boot.Item) (string, error) {
	doc, err := sjson.Set(`{}`, "boot", item.ID)
	if err != nil {
		return "", err
	}
	if doc, err = sjson.Set(doc, "command", item.Command); err != nil {
		return "", err
	}
	if item.Args == "" {
		return doc, nil
	}
	if gjson.Valid(item.Args) {
		return sjson.SetRaw(doc, "args", item.Args)
	}
	return sjson.Set(doc, "args", item.Args)
}

// BindHotkeys registers the hotkeys from configuration and returns how
// many were accepted.
func (app *Application) BindHotkeys() int {
	if app.hotkeys == nil {
		return 0
	}
	n := 0
	for _, b := range app.cfg.Hotkeys.Bindings {
		combo, err := key.Parse(b.Combo)
		if err != nil {
			app.logger.Warn("invalid hotkey", "id", b.ID, "combo", b.Combo, "error", err)
			continue
		}
		if app.hotkeys.Register(hotkey.NewInfo(b.ID, combo, app.hotkeyCallback(b.ID, b.Command, b.Args))) {
			n++
		}
	}
	return n
}

func (app *Application) hotkeyCallback(id, command, args string) hotkey.Callback {
	return func() {
		ctx := app.runContext()
		res, err := app.Execute(ctx, command, args)
		if err != nil {
			app.logger.Warn("hotkey command failed", "id", id, "command", command, "error", err)
		}
		app.publish(ctx, event.TopicHotkeyFired, HotkeyEvent{ID: id, Command: command, Success: err == nil && res.Success})
	}
}

func (app *Application) publish(ctx context.Context, t event.Topic, payload any) {
	if err := app.bus.Publish(ctx, t, payload); err != nil {
		app.logger.Warn("event delivery failed", "topic", t.String(), "error", err)
	}
}
