package monitor

import (
	"sync/atomic"
)

// WorkloadStats counts operations against one Database.
type WorkloadStats struct {
	ReadCount   uint64
	WriteCount  uint64
	DeleteCount uint64
	HitCount    uint64
	MissCount   uint64
	SyncCount   uint64
}

func NewWorkloadStats() *WorkloadStats {
	return &WorkloadStats{}
}

func (ws *WorkloadStats) RecordRead() {
	atomic.AddUint64(&ws.ReadCount, 1)
}

func (ws *WorkloadStats) RecordWrite() {
	atomic.AddUint64(&ws.WriteCount, 1)
}

func (ws *WorkloadStats) RecordDelete() {
	atomic.AddUint64(&ws.DeleteCount, 1)
}

func (ws *WorkloadStats) RecordHit() {
	atomic.AddUint64(&ws.HitCount, 1)
}

func (ws *WorkloadStats) RecordMiss() {
	atomic.AddUint64(&ws.MissCount, 1)
}

func (ws *WorkloadStats) RecordSync() {
	atomic.AddUint64(&ws.SyncCount, 1)
}

// Snapshot returns a consistent-enough copy for reporting.
func (ws *WorkloadStats) Snapshot() WorkloadStats {
	return WorkloadStats{
		ReadCount:   atomic.LoadUint64(&ws.ReadCount),
		WriteCount:  atomic.LoadUint64(&ws.WriteCount),
		DeleteCount: atomic.LoadUint64(&ws.DeleteCount),
		HitCount:    atomic.LoadUint64(&ws.HitCount),
		MissCount:   atomic.LoadUint64(&ws.MissCount),
		SyncCount:   atomic.LoadUint64(&ws.SyncCount),
	}
}

func (ws *WorkloadStats) GetReadWriteRatio() float64 {
	reads := atomic.LoadUint64(&ws.ReadCount)
	writes := atomic.LoadUint64(&ws.WriteCount)

	if writes == 0 {
		if reads > 0 {
			return 100.0
		}
		return 0.0
	}
	return float64(reads) / float64(writes)
}
