package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Errors returned by the resolver.
var (
	// ErrNoHandler is returned when no plugin handles a scheme.
	ErrNoHandler = errors.New("protocol: no handler for scheme")

	// ErrSelectionRequired is returned when the user must pick a handler
	// and no Chooser is configured.
	ErrSelectionRequired = errors.New("protocol: handler selection required")

	// ErrSelectionCanceled is returned when the Chooser declines to pick.
	ErrSelectionCanceled = errors.New("protocol: handler selection canceled")
)

// SelectionError carries the candidates the user must choose from.
type SelectionError struct {
	Scheme     string
	Candidates []Handler
}

// Error implements the error interface.
func (e *SelectionError) Error() string {
	return fmt.Sprintf("%v: %s has %d candidates", ErrSelectionRequired, e.Scheme, len(e.Candidates))
}

// Unwrap returns ErrSelectionRequired.
func (e *SelectionError) Unwrap() error {
	return ErrSelectionRequired
}

// Chooser asks the user to pick a handler. Returning remember=true makes
// the choice the scheme's default.
type Chooser interface {
	Choose(ctx context.Context, rawURL string, candidates []Handler) (choice Handler, remember bool, err error)
}

// ChooserFunc adapts a function to Chooser.
type ChooserFunc func(ctx context.Context, rawURL string, candidates []Handler) (Handler, bool, error)

// Choose calls f.
func (f ChooserFunc) Choose(ctx context.Context, rawURL string, candidates []Handler) (Handler, bool, error) {
	return f(ctx, rawURL, candidates)
}

// Resolution is the outcome of resolving a URL.
type Resolution struct {
	URL     string
	Scheme  string
	Handler Handler

	// Prompted is true when the Chooser picked the handler.
	Prompted bool
}

// Resolver picks the handler for an incoming URL: the default if one is
// set and not stale, otherwise whatever the Chooser selects.
type Resolver struct {
	reg     *Registry
	chooser Chooser
}

// NewResolver creates a resolver. chooser may be nil.
func NewResolver(reg *Registry, chooser Chooser) *Resolver {
	return &Resolver{reg: reg, chooser: chooser}
}

// Resolve resolves rawURL to a handler.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (Resolution, error) {
	scheme, err := SchemeOf(rawURL)
	if err != nil {
		return Resolution{}, err
	}

	candidates, err := r.reg.Handlers(ctx, scheme)
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) == 0 {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoHandler, scheme)
	}

	res := Resolution{URL: rawURL, Scheme: scheme}
	for _, h := range candidates {
		if h.IsDefault && !h.IsUpdated {
			res.Handler = h
			return res, nil
		}
	}

	if r.chooser == nil {
		return Resolution{}, &SelectionError{Scheme: scheme, Candidates: candidates}
	}

	choice, remember, err := r.chooser.Choose(ctx, rawURL, candidates)
	if err != nil {
		return Resolution{}, err
	}
	if !contains(candidates, choice) {
		return Resolution{}, fmt.Errorf("%w: %s", ErrSelectionCanceled, scheme)
	}

	if remember {
		if err := r.reg.LinkDefault(ctx, scheme, choice.PackageID); err != nil {
			return Resolution{}, err
		}
		choice.IsDefault = true
		choice.IsUpdated = false
	}

	res.Handler = choice
	res.Prompted = true
	return res, nil
}

func contains(candidates []Handler, h Handler) bool {
	for _, c := range candidates {
		if c.PackageID == h.PackageID && h.PackageID != "" {
			return true
		}
	}
	return false
}
