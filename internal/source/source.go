// Package source defines manifest sources: feeds that report manifest entries
// as they appear and disappear.
package source

import (
	"context"

	"github.com/kamusis/modres/internal/manifest"
)

// Handler receives notifications from a Source. A source never calls its
// handler concurrently with itself.
type Handler interface {
	// OnIdle signals that the initial enumeration is complete. It may be
	// delivered more than once, or never.
	OnIdle()
	OnNewEntry(entryID string, e manifest.Entry)
	OnRemovedEntry(entryID string)
}

// Source pushes manifest entries to a Handler.
type Source interface {
	// Watch starts delivering notifications to h. It returns once watching
	// has started; notifications may continue on another goroutine until ctx
	// ends or Close is called.
	Watch(ctx context.Context, h Handler) error
	// Close stops the source. It is safe to call more than once.
	Close() error
}

// HandlerFuncs adapts plain functions to a Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Idle    func()
	New     func(entryID string, e manifest.Entry)
	Removed func(entryID string)
}

func (f HandlerFuncs) OnIdle() {
	if f.Idle != nil {
		f.Idle()
	}
}

func (f HandlerFuncs) OnNewEntry(entryID string, e manifest.Entry) {
	if f.New != nil {
		f.New(entryID, e)
	}
}

func (f HandlerFuncs) OnRemovedEntry(entryID string) {
	if f.Removed != nil {
		f.Removed(entryID)
	}
}
