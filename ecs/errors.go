package ecs

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Recoverable failures. These are returned to the caller and leave the
// world consistent.
var (
	ErrOnDeletePanic = eris.New("delete blocked by (OnDelete, Panic) policy")
	ErrNameConflict  = eris.New("name already in use")
)

// Fatal failures. The world panics with one of these, wrapped with context,
// after logging and calling the fatal handler.
var (
	ErrInvalidOperation = eris.New("invalid operation")
	ErrInvalidId        = eris.New("invalid id")
	ErrNotAlive         = eris.New("entity is not alive")
	ErrOutOfRange       = eris.New("index out of range")
	ErrLocked           = eris.New("table is locked")
	ErrReadonly         = eris.New("world is readonly")
	ErrDeferUnderflow   = eris.New("DeferEnd called without matching DeferBegin")
	ErrIdSpaceExhausted = eris.New("entity id space exhausted")
	ErrIdInUse          = eris.New("cannot change traits of an id that is in use")
	ErrMergeOverflow    = eris.New("cleanup commands did not converge")
	ErrFinalized        = eris.New("world is finalized")
)

// FatalHandler is called with the error right before the world panics.
type FatalHandler func(err error)

func (w *World) fatal(err error, msg string, fields ...zap.Field) {
	err = eris.Wrap(err, msg)
	w.log.Error(msg, append(fields, zap.Error(err))...)
	if w.onFatal != nil {
		w.onFatal(err)
	}
	panic(err)
}

func (w *World) check(cond bool, err error, msg string, fields ...zap.Field) {
	if !cond {
		w.fatal(err, msg, fields...)
	}
}
