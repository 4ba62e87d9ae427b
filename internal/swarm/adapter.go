package swarm

import (
	"github.com/ant-overlay/antcore/internal/payment"
	"github.com/ant-overlay/antcore/internal/store"
)

// StoreStatsAdapter satisfies payment.StatsSource by projecting
// store.Store.LocalStats into payment's own StoreStats shape. This is
// the single point where internal/store and internal/payment, which are
// mutually unaware of each other, get wired together — keeping the
// dependency direction from fanning out into either package. Exported
// for the daemon entrypoint's construction sequence (store, then
// payment engine, then swarm driver).
type StoreStatsAdapter struct {
	S *store.Store
}

// LocalStats implements payment.StatsSource.
func (a StoreStatsAdapter) LocalStats() (payment.StoreStats, error) {
	stats, err := a.S.LocalStats()
	if err != nil {
		return payment.StoreStats{}, err
	}
	return payment.StoreStats{
		CloseRecordsStored:   stats.CloseRecordsStored,
		MaxRecords:           stats.MaxRecords,
		ReceivedPaymentCount: stats.ReceivedPaymentCount,
	}, nil
}

// EngineQuoterValidator adapts *payment.Engine to store.Quoter and
// store.Validator, the two interfaces store.Config accepts without ever
// importing package payment.
type EngineQuoterValidator struct {
	*payment.Engine
}
