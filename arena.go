// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"errors"

	"code.hybscloud.com/atomix"
)

// Arena is a chained bump allocator holding work-item records in
// submission order. Records form a forward-linked list across the
// page chain; draining walks the list and applies every record
// against the bound sink/source.
//
// An arena is single-threaded by construction: the two-page swap
// queue guarantees that at any moment either the producer or the
// consumer owns it, never both. Only the sequence tag crosses
// threads, and the queue's locks order those accesses.
type Arena struct {
	first *page
	last  *page

	// curOff is the tail link slot on the last page (always zero).
	curOff int
	// prevPage/prevOff locate the open record's link slot, which is
	// re-pointed as the record grows.
	prevPage *page
	prevOff  int

	// refs holds heap operands of reference-kind records (callbacks,
	// handlers, borrowed parse targets, generic formatter values).
	// Records store indexes into it; slots are released at Clear.
	refs []any

	seq atomix.Uint64
}

// NewArena creates an arena with a single page of pageBytes bytes
// (minus the page-break reserve, as the reserve is over-allocated).
// pageBytes <= 0 selects the default of 4096.
func NewArena(pageBytes int) *Arena {
	if pageBytes <= 0 {
		pageBytes = defaultPageBytes
	}
	capWords := pageBytes/wordBytes - breakWords
	p := newPage(capWords)
	return &Arena{first: p, last: p}
}

// SequenceNumber returns the generation tag. The tag is opaque to the
// arena; the swap queue stamps it to identify which generation of
// content the page chain currently holds.
func (a *Arena) SequenceNumber() uint64 {
	return a.seq.LoadRelaxed()
}

// SetSequenceNumber stamps the generation tag.
func (a *Arena) SetSequenceNumber(n uint64) {
	a.seq.StoreRelaxed(n)
}

// Empty reports whether the arena holds no records.
func (a *Arena) Empty() bool {
	return a.first.words[0] == 0
}

// add begins a new record: link slot + header + nfixed operand words
// + payload rounded up to whole words. Returns the record's page and
// word offset; the header and operands are filled in by the caller.
func (a *Arena) add(kind itemKind, nfixed, payload int) (pg *page, off int) {
	need := linkWords + headerWords + nfixed + (payload+wordBytes-1)/wordBytes
	a.prevPage, a.prevOff = a.last, a.curOff
	pg, off = a.allocate(need)
	pg.words[off+1] = headerWord(kind, payload)
	return pg, off
}

// allocate reserves need words for the open record, growing the page
// chain geometrically on exhaustion. The open record's link is set to
// the new tail slot, which is zeroed to terminate the chain.
func (a *Arena) allocate(need int) (pg *page, off int) {
	if a.curOff+need < a.last.usable() {
		pg, off = a.last, a.curOff
		a.curOff += need
		a.prevPage.words[a.prevOff] = a.linkTo(a.prevPage, a.last, a.curOff)
		a.last.words[a.curOff] = 0
		return pg, off
	}

	capWords := 2 * a.last.usable()
	if capWords < 2*need {
		capWords = 2 * need
	}
	np := newPage(capWords)
	a.last.next = np

	if a.prevPage == a.last && a.prevOff == a.curOff {
		// A record in progress would straddle pages: emit a page-break
		// record in the tail gap so the link chain stays walkable.
		// The reserve guarantees it fits.
		a.last.words[a.curOff+1] = headerWord(itemPageBreak, 0)
		a.last.words[a.curOff] = a.linkTo(a.last, np, 0)
		a.prevPage, a.prevOff = np, 0
	}

	a.last = np
	pg, off = np, 0
	a.curOff = need
	a.prevPage.words[a.prevOff] = a.linkTo(a.prevPage, np, need)
	np.words[need] = 0
	return pg, off
}

// linkTo encodes a link from a slot on page from to (to, toOff).
func (a *Arena) linkTo(from, to *page, toOff int) uint64 {
	hops := uint64(0)
	for p := from; p != to; p = p.next {
		hops++
	}
	return encodeLink(hops, toOff)
}

// pushRef stores a heap operand and returns its slot index.
func (a *Arena) pushRef(v any) uint64 {
	a.refs = append(a.refs, v)
	return uint64(len(a.refs) - 1)
}

// Drain walks the record chain in submission order and applies every
// work item against w and r. Failures are routed to h and the walk
// continues with the next record; nothing is freed.
//
// Either w or r may be nil when no record of the matching kind was
// submitted; submission-side checks in Stream uphold that.
func (a *Arena) Drain(w Sink, r Source, h ErrorHandler) {
	pg, off := a.first, 0
	for {
		link := pg.words[off]
		if link == 0 {
			return
		}
		a.apply(pg, off, w, r, h)
		hops, noff := decodeLink(link)
		for ; hops > 0; hops-- {
			pg = pg.next
		}
		off = noff
	}
}

// apply runs one record and routes its failure, if any, to h.
// A panicking work item is recovered here so the drain survives it.
func (a *Arena) apply(pg *page, off int, w Sink, r Source, h ErrorHandler) {
	defer func() {
		if v := recover(); v != nil && h != nil {
			h.CatchPanic(v)
		}
	}()
	err := a.applyRecord(pg, off, w, r)
	if err == nil || h == nil {
		return
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		h.CatchIOError(ioe)
		return
	}
	h.CatchError(err)
}

// Clear releases reference slots, frees every page except the head
// (kept as a hot starting point), and resets the cursors. Idempotent.
func (a *Arena) Clear() {
	for i := range a.refs {
		a.refs[i] = nil
	}
	a.refs = a.refs[:0]
	a.first.next = nil
	a.last = a.first
	a.curOff = 0
	a.prevPage, a.prevOff = nil, 0
	a.first.words[0] = 0
}
