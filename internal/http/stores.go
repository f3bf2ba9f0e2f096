package http

import (
	"context"
	"time"

	"numtrack/internal/ledger"
	"numtrack/internal/snapshots"
)

const storeLoadTimeout = 10 * time.Second

// storeFor returns the cached store of owner, hydrating it from the
// repository on a miss. Concurrent misses share one load; a failed load is
// not cached, so a later request retries instead of serving an empty ledger
// that would overwrite persisted data on the next save.
func (s *Server) storeFor(ctx context.Context, owner string) (*ledger.Store, error) {
	return s.stores.GetOrLoad(owner, func() (*ledger.Store, error) {
		// The load is shared by every waiter, so it must outlive the
		// request that happened to start it.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeLoadTimeout)
		defer cancel()

		store, err := ledger.Open(lctx, snapshots.Bind(s.repo, owner))
		if err != nil {
			return nil, err
		}
		s.appMetrics.storeLoads.Add(1)
		return store, nil
	})
}
