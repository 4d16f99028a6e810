package core

import (
	"sync"
	"time"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
)

type HealthInfo map[uint64][]provider.NodeInfo

// healthCache rebuilds the health report at most once a minute.
type healthCache struct {
	mu             sync.Mutex
	info           HealthInfo
	nextUpdateTime time.Time
}

func (h *healthCache) get(chains map[uint64]*Chain) HealthInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.info == nil || h.nextUpdateTime.Before(time.Now()) {
		info := make(HealthInfo, len(chains))
		for chainId, chain := range chains {
			info[chainId] = chain.health()
		}

		h.info = info
		h.nextUpdateTime = time.Now().Add(1 * time.Minute)
	}

	return h.info
}
