package pagekv

import "sync/atomic"

// ExportStat is the snapshot view of iStat returned to callers via
// (*Environment).Stat: one counter per cache, freelist, extended-key cache,
// and transaction-manager event worth observing from outside the engine.
type ExportStat struct {
	CacheHit        uint64
	CacheMis        uint64
	FreelistHit     uint64
	FreelistMis     uint64
	ExtKeyCacheHit  uint64
	ExtKeyCacheMis  uint64
	ExtKeyCacheFull uint64
	TxCommitCount   uint64
	TxRollbackCount uint64
	TxCommitSumTs   uint64
	TxRollbackSumTs uint64
}

type iStat struct {
	cacheHit        atomic.Uint64
	cacheMis        atomic.Uint64
	freelistHit     atomic.Uint64
	freelistMis     atomic.Uint64
	extKeyCacheHit  atomic.Uint64
	extKeyCacheMis  atomic.Uint64
	extKeyCacheFull atomic.Uint64
	txCommitCount   atomic.Uint64
	txRollbackCount atomic.Uint64
	txCommitSumTs   atomic.Uint64
	txRollbackSumTs atomic.Uint64
}

func (s *iStat) export() ExportStat {
	return ExportStat{
		CacheHit:        s.cacheHit.Load(),
		CacheMis:        s.cacheMis.Load(),
		FreelistHit:     s.freelistHit.Load(),
		FreelistMis:     s.freelistMis.Load(),
		ExtKeyCacheHit:  s.extKeyCacheHit.Load(),
		ExtKeyCacheMis:  s.extKeyCacheMis.Load(),
		ExtKeyCacheFull: s.extKeyCacheFull.Load(),
		TxCommitCount:   s.txCommitCount.Load(),
		TxRollbackCount: s.txRollbackCount.Load(),
		TxCommitSumTs:   s.txCommitSumTs.Load(),
		TxRollbackSumTs: s.txRollbackSumTs.Load(),
	}
}
