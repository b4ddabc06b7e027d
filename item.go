// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Work items are tagged records rather than a v-table hierarchy: one
// kind word dispatches a switch at drain time, so heterogeneous items
// share a page with no per-type indirection and the encoding stays
// position-independent.
//
// Record layout: [link][header][fixed operand words...][payload bytes].
// The header packs the kind into the low byte and the payload byte
// length above it.
type itemKind uint8

const (
	// itemPageBreak fills the tail gap when a record spills to the
	// next page. Applying it does exactly nothing.
	itemPageBreak itemKind = iota

	// Inline scalar formatters: operand word holds the value.
	itemInt
	itemUint
	itemFloat
	itemBool

	// itemBytes writes its payload verbatim. Pre-serialized string
	// formatters and raw writes share this kind: both copy their
	// bytes into the arena at submit time.
	itemBytes

	// itemValue formats an arbitrary value held in a reference slot.
	itemValue

	// itemParse extracts from the source into a borrowed target held
	// in a reference slot.
	itemParse

	// itemAsyncWrite writes its payload and then invokes a completion
	// handler with the write status and byte count.
	itemAsyncWrite

	// itemAsyncParse parses into a borrowed target and then invokes a
	// completion handler. The byte count reported is always zero: the
	// source does not report parse progress.
	itemAsyncParse

	// itemCallback invokes a stored callable; its returned error is
	// routed to the error handler.
	itemCallback

	// Scalar manipulators.
	itemSeek
	itemClearState
	itemSetState
	itemImbue
)

func headerWord(kind itemKind, payload int) uint64 {
	return uint64(kind) | uint64(payload)<<8
}

// ErrNotSeekable is reported when a Seek work item is applied against
// a sink that does not implement io.Seeker.
var ErrNotSeekable = errors.New("sox: sink is not seekable")

// CompletionHandler is invoked on the drain thread after an
// async-write or async-parse work item was applied. n is the number
// of bytes written, or zero for parses.
type CompletionHandler func(status Status, n int)

// PushInt appends an integer formatter.
func (a *Arena) PushInt(v int64) {
	pg, off := a.add(itemInt, 1, 0)
	pg.words[off+2] = uint64(v)
}

// PushUint appends an unsigned integer formatter.
func (a *Arena) PushUint(v uint64) {
	pg, off := a.add(itemUint, 1, 0)
	pg.words[off+2] = v
}

// PushFloat appends a float formatter.
func (a *Arena) PushFloat(v float64) {
	pg, off := a.add(itemFloat, 1, 0)
	pg.words[off+2] = math.Float64bits(v)
}

// PushBool appends a bool formatter.
func (a *Arena) PushBool(v bool) {
	pg, off := a.add(itemBool, 1, 0)
	if v {
		pg.words[off+2] = 1
	}
}

// PushBytes appends a raw-bytes write. p is copied into the arena and
// the copy lives until the arena is cleared.
func (a *Arena) PushBytes(p []byte) {
	pg, off := a.add(itemBytes, 0, len(p))
	copy(pg.bytesAt(off+2, len(p)), p)
}

// PushString appends a pre-serialized string formatter. The bytes are
// copied into the arena at submit time and written verbatim at drain
// time.
func (a *Arena) PushString(s string) {
	pg, off := a.add(itemBytes, 0, len(s))
	copy(pg.bytesAt(off+2, len(s)), s)
}

// PushValue appends a generic formatter for v. The value is retained
// until the arena is cleared and formatted with fmt on the drain
// thread.
func (a *Arena) PushValue(v any) {
	pg, off := a.add(itemValue, 1, 0)
	pg.words[off+2] = a.pushRef(v)
}

// PushParse appends a parser extracting into target, which must be a
// pointer. The target is borrowed: the caller guarantees it outlives
// the drain.
func (a *Arena) PushParse(target any) {
	pg, off := a.add(itemParse, 1, 0)
	pg.words[off+2] = a.pushRef(target)
}

// PushAsyncWrite appends a raw-bytes write followed by a completion
// notification. p is copied; handler runs on the drain thread.
func (a *Arena) PushAsyncWrite(p []byte, handler CompletionHandler) {
	pg, off := a.add(itemAsyncWrite, 1, len(p))
	pg.words[off+2] = a.pushRef(handler)
	copy(pg.bytesAt(off+3, len(p)), p)
}

// PushAsyncParse appends a parser followed by a completion
// notification. target is borrowed; handler runs on the drain thread
// and always receives a byte count of zero.
func (a *Arena) PushAsyncParse(target any, handler CompletionHandler) {
	pg, off := a.add(itemAsyncParse, 2, 0)
	pg.words[off+2] = a.pushRef(target)
	pg.words[off+3] = a.pushRef(handler)
}

// PushCallback appends a completion callback. fn runs on the drain
// thread after every previously submitted item was applied; a
// returned error is routed to the error handler.
func (a *Arena) PushCallback(fn func() error) {
	pg, off := a.add(itemCallback, 1, 0)
	pg.words[off+2] = a.pushRef(fn)
}

// PushSeek appends a seek manipulator.
func (a *Arena) PushSeek(offset int64, whence int) {
	pg, off := a.add(itemSeek, 2, 0)
	pg.words[off+2] = uint64(offset)
	pg.words[off+3] = uint64(whence)
}

// PushClearState appends a clear-state manipulator targeting the sink.
func (a *Arena) PushClearState(s Status) {
	pg, off := a.add(itemClearState, 1, 0)
	pg.words[off+2] = uint64(s)
}

// PushSetState appends a set-state manipulator targeting the source
// (or the sink when the source does not implement Stater).
func (a *Arena) PushSetState(s Status) {
	pg, off := a.add(itemSetState, 1, 0)
	pg.words[off+2] = uint64(s)
}

// PushImbue appends an imbue-locale manipulator.
func (a *Arena) PushImbue(locale string) {
	pg, off := a.add(itemImbue, 0, len(locale))
	copy(pg.bytesAt(off+2, len(locale)), locale)
}

// applyRecord executes one work item against w and r. Sink and source
// failures come back wrapped in *IOError; other errors are the work
// item's own.
func (a *Arena) applyRecord(pg *page, off int, w Sink, r Source) error {
	hdr := pg.words[off+1]
	kind := itemKind(hdr & 0xff)
	plen := int(hdr >> 8)
	body := off + 2

	switch kind {
	case itemPageBreak:
		return nil

	case itemInt:
		var buf [24]byte
		_, err := w.Write(strconv.AppendInt(buf[:0], int64(pg.words[body]), 10))
		return wrapIO("write", err)

	case itemUint:
		var buf [24]byte
		_, err := w.Write(strconv.AppendUint(buf[:0], pg.words[body], 10))
		return wrapIO("write", err)

	case itemFloat:
		var buf [32]byte
		_, err := w.Write(strconv.AppendFloat(buf[:0], math.Float64frombits(pg.words[body]), 'g', -1, 64))
		return wrapIO("write", err)

	case itemBool:
		var buf [8]byte
		_, err := w.Write(strconv.AppendBool(buf[:0], pg.words[body] != 0))
		return wrapIO("write", err)

	case itemBytes:
		_, err := w.Write(pg.bytesAt(body, plen))
		return wrapIO("write", err)

	case itemValue:
		_, err := fmt.Fprint(w, a.refs[pg.words[body]])
		return wrapIO("write", err)

	case itemParse:
		_, err := fmt.Fscan(r, a.refs[pg.words[body]])
		return wrapIO("read", err)

	case itemAsyncWrite:
		handler := a.refs[pg.words[body]].(CompletionHandler)
		n, err := w.Write(pg.bytesAt(body+1, plen))
		handler(writeStatus(err), n)
		return wrapIO("write", err)

	case itemAsyncParse:
		target := a.refs[pg.words[body]]
		handler := a.refs[pg.words[body+1]].(CompletionHandler)
		_, err := fmt.Fscan(r, target)
		handler(readStatus(err), 0)
		return wrapIO("read", err)

	case itemCallback:
		fn := a.refs[pg.words[body]].(func() error)
		return fn()

	case itemSeek:
		sk, ok := w.(io.Seeker)
		if !ok {
			return &IOError{Op: "seek", Err: ErrNotSeekable}
		}
		_, err := sk.Seek(int64(pg.words[body]), int(pg.words[body+1]))
		return wrapIO("seek", err)

	case itemClearState:
		if st, ok := w.(Stater); ok {
			st.ClearState(Status(pg.words[body]))
		}
		return nil

	case itemSetState:
		if st, ok := r.(Stater); ok {
			st.SetState(Status(pg.words[body]))
		} else if st, ok := w.(Stater); ok {
			st.SetState(Status(pg.words[body]))
		}
		return nil

	case itemImbue:
		if ls, ok := w.(LocaleSink); ok {
			ls.Imbue(string(pg.bytesAt(body, plen)))
		}
		return nil
	}
	return nil
}

func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
