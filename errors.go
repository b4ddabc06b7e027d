// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"fmt"

	"code.hybscloud.com/iox"
	"github.com/rs/zerolog"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// [SwapQueue.Consume] returns it when no page can be acquired: the
// queue is empty, a producer is mid-insert, or a competing drainer
// holds the consuming lock.
//
// ErrWouldBlock is a control flow signal, not a failure. The caller
// should retry the operation later (with backoff or yield) rather
// than propagating the error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// IOError is the domain error class: a failure reported by the bound
// sink or source while a work item was being applied. Op identifies
// the operation that failed ("write", "flush", "seek", "read").
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("sox: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives failures raised while draining work items.
//
// The three methods mirror the error taxonomy:
//
//   - CatchIOError: the sink or source reported an error ([IOError])
//   - CatchError: a work item returned any other error (for example
//     a completion callback)
//   - CatchPanic: a work item panicked; v is the recovered value
//
// Each failure is reported exactly once and the drain continues with
// the next work item. Failures are never fatal to the service.
//
// Handlers run on the drain thread. A handler MUST NOT submit back
// into the stream being drained: the submission would contend with
// the drainer that invoked it.
type ErrorHandler interface {
	CatchIOError(err *IOError)
	CatchError(err error)
	CatchPanic(v any)
}

// logHandler is the default ErrorHandler: drain failures become
// structured zerolog events.
type logHandler struct {
	log zerolog.Logger
}

func (h logHandler) CatchIOError(err *IOError) {
	h.log.Error().Err(err.Err).Str("op", err.Op).Msg("sox: drain i/o error")
}

func (h logHandler) CatchError(err error) {
	h.log.Error().Err(err).Msg("sox: drain error")
}

func (h logHandler) CatchPanic(v any) {
	h.log.Error().Interface("panic", v).Msg("sox: drain panic")
}
