// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

package sox_test

import (
	"testing"

	"code.hybscloud.com/sox"
)

// BenchmarkSubmit measures the producer hot path: one insert
// transaction appending an inline formatter, drained in bulk every
// 4096 submissions.
func BenchmarkSubmit(b *testing.B) {
	sink := sox.NewBufferSink()
	svc := sox.NewIdleService(nil)
	s := sox.NewWriterStream(sink, svc)
	defer s.Close()

	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		s.Print(i)
		if i%4096 == 0 {
			s.TryDrain()
			sink.Reset()
		}
	}
	s.TryDrain()
}

// BenchmarkSwapQueueCycle measures one full insert/consume hand-off
// including the page swap.
func BenchmarkSwapQueueCycle(b *testing.B) {
	q := sox.NewSwapQueue(sox.NewArena(0), sox.NewArena(0))
	sink := sox.NewBufferSink()

	b.ReportAllocs()
	for b.Loop() {
		txn, _ := q.BeginInsert()
		txn.Arena().PushInt(1)
		txn.Commit()

		ctxn, res := q.TryConsume()
		if res.Consumed() {
			ctxn.Arena().Drain(sink, nil, nil)
			ctxn.Commit()
		}
		sink.Reset()
	}
}

// BenchmarkArenaPush measures bump allocation of inline records.
func BenchmarkArenaPush(b *testing.B) {
	a := sox.NewArena(0)

	b.ReportAllocs()
	for i := 0; b.Loop(); i++ {
		a.PushInt(int64(i))
		if i%8192 == 8191 {
			a.Clear()
		}
	}
}
