// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import "unsafe"

const (
	wordBytes   = 8
	linkWords   = 1
	headerWords = 1

	// breakWords is the tail reserve of every page: a page-break
	// record (link + header) must always fit in the gap left when a
	// record spills to the next page.
	breakWords = linkWords + headerWords

	// defaultPageBytes is the initial page size of an arena.
	defaultPageBytes = 4096

	minPageWords = 8
)

// page is a contiguous word-addressed block holding a run of work-item
// records. Records are laid out as [link][header][fixed...][payload],
// all word-aligned; link 0 terminates the chain. The first link slot
// is zeroed at construction.
//
// A page is owned exclusively by its arena and never outlives it.
type page struct {
	words []uint64
	next  *page
}

// newPage allocates a page with capWords usable words plus the
// page-break reserve. make zero-initializes the first link slot.
func newPage(capWords int) *page {
	if capWords < minPageWords {
		capWords = minPageWords
	}
	return &page{words: make([]uint64, capWords+breakWords)}
}

// usable is the word index limit for new records; the reserve beyond
// it only ever holds a page-break record and the terminating link.
func (p *page) usable() int {
	return len(p.words) - breakWords
}

// bytesAt views n bytes of payload starting at word wordOff.
func (p *page) bytesAt(wordOff, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&p.words[wordOff])), n)
}

// Links are stored page-relative so pages are position-independent:
// the low half carries the destination word offset biased by one
// (a link value of zero always means end-of-chain), the high half
// carries how many pages forward the destination lies.

const linkOffsetMask = 1<<32 - 1

func encodeLink(hops uint64, off int) uint64 {
	return hops<<32 | uint64(off+1)
}

func decodeLink(v uint64) (hops uint64, off int) {
	return v >> 32, int(v&linkOffsetMask) - 1
}
