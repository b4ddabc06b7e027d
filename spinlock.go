// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sox

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// spinlock is a tiny try-acquirable spin lock.
//
// Acquire is a full barrier (CAS with acquire-release ordering),
// release is a release store. Critical sections guarded by it are
// expected to be a handful of instructions; there is no queueing and
// no fairness.
type spinlock struct {
	v atomix.Uint64
}

// lock spins until the lock is held.
func (l *spinlock) lock() {
	sw := spin.Wait{}
	for !l.v.CompareAndSwapAcqRel(0, 1) {
		sw.Once()
	}
}

// tryLock acquires the lock without spinning.
// Returns false if another holder is active.
func (l *spinlock) tryLock() bool {
	return l.v.CompareAndSwapAcqRel(0, 1)
}

// unlock releases the lock. Release-fences prior writes.
func (l *spinlock) unlock() {
	l.v.StoreRelease(0)
}

// pad is cache line padding to prevent false sharing.
type pad [64]byte
