package core

import (
	"bytes"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
)

const CacheSize = 20000

type ReqCacheKey struct {
	ChainId uint64          `json:"chainId"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// responseCache keeps results of pinned requests to cacheable methods.
type responseCache struct {
	cache *lru.TwoQueueCache
}

func newResponseCache(size int) *responseCache {
	if size <= 0 {
		size = CacheSize
	}

	cache, err := lru.New2Q(size)
	if err != nil {
		panic(fmt.Errorf("init cache failed: %v", err))
	}

	return &responseCache{cache: cache}
}

func cacheKey(chainId uint64, req *jsonrpc.Request) string {
	params := req.Params
	if len(params) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, params); err == nil {
			params = compact.Bytes()
		}
	}

	key, _ := json.Marshal(ReqCacheKey{ChainId: chainId, Method: req.Method, Params: params})
	return string(key)
}

func (c *responseCache) get(chainId uint64, req *jsonrpc.Request) (json.RawMessage, bool) {
	val, ok := c.cache.Get(cacheKey(chainId, req))
	if !ok {
		return nil, false
	}
	return val.(json.RawMessage), true
}

func (c *responseCache) add(chainId uint64, req *jsonrpc.Request, result json.RawMessage) {
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return
	}
	c.cache.Add(cacheKey(chainId, req), result)
}
