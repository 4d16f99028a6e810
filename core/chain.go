package core

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"time"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/auth"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/multi"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/signer"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/sirupsen/logrus"
)

const defaultSignerName = "signer"

type upstreamSet interface {
	healthCheck(ctx context.Context)
	health() []provider.NodeInfo
}

// Chain is everything serving one chain id: the providers behind a
// dispatcher, and the authenticator in front of it.
type Chain struct {
	ID uint64

	Dispatcher    *multi.Provider
	Authenticator *auth.Authenticator

	upstreams []upstreamSet
	cacheable map[string]bool
}

func ChainContext(chainId uint64) string {
	return fmt.Sprintf("eip155:%d", chainId)
}

// NewChain builds a chain from its config. s may be nil.
func NewChain(chainId uint64, cfg ChainConfig, s store.Store) (*Chain, error) {
	chain := &Chain{
		ID:        chainId,
		cacheable: make(map[string]bool),
	}

	providers := make(map[string]provider.Provider)

	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p, err := newStrategyProvider(cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("chain %d provider %s: %w", chainId, name, err)
		}

		providers[name] = p
		if set, ok := p.(upstreamSet); ok {
			chain.upstreams = append(chain.upstreams, set)
		}
	}

	if cfg.Signer != nil {
		name, ks, err := newSigner(chainId, cfg.Signer, providers)
		if err != nil {
			return nil, fmt.Errorf("chain %d: %w", chainId, err)
		}
		providers[name] = ks
	}

	schemas, err := cfg.schemas()
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chainId, err)
	}

	chain.Dispatcher, err = multi.New(multi.Config{
		Providers: providers,
		Routes:    cfg.Routes,
		Schemas:   schemas,
	})
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chainId, err)
	}

	timeout, err := cfg.approvalTimeout()
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chainId, err)
	}

	chain.Authenticator, err = auth.New(auth.Config{
		Context:         ChainContext(chainId),
		Methods:         schemas,
		ApprovalTimeout: timeout,
	}, chain.Dispatcher, s)
	if err != nil {
		return nil, fmt.Errorf("chain %d: %w", chainId, err)
	}

	for _, method := range cfg.CacheableMethods {
		chain.cacheable[method] = true
	}

	return chain, nil
}

func newSigner(chainId uint64, cfg *SignerConfig, providers map[string]provider.Provider) (string, *signer.KeySigner, error) {
	name := cfg.Name
	if name == "" {
		name = defaultSignerName
	}

	if _, exist := providers[name]; exist {
		return "", nil, jsonrpc.ConfigErrorf("signer name %s is taken by a provider", name)
	}

	key := os.Getenv(cfg.KeyEnv)
	if cfg.KeyEnv == "" || key == "" {
		return "", nil, jsonrpc.ConfigErrorf("signer key env %q is empty", cfg.KeyEnv)
	}

	broadcaster, ok := providers[cfg.Broadcaster]
	if !ok {
		return "", nil, jsonrpc.ConfigErrorf("signer broadcaster %q is not a provider", cfg.Broadcaster)
	}

	ks, err := signer.NewKeySigner(key, new(big.Int).SetUint64(chainId), broadcaster)
	if err != nil {
		return "", nil, err
	}

	logrus.Infof("chain %d signer %s uses account %s", chainId, name, ks.Address().Hex())

	return name, ks, nil
}

// Start connects the providers and restores the pending requests.
func (c *Chain) Start(ctx context.Context) error {
	if err := c.Dispatcher.Connect(ctx); err != nil {
		return fmt.Errorf("chain %d connect: %w", c.ID, err)
	}

	if err := c.Authenticator.Init(ctx); err != nil {
		return fmt.Errorf("chain %d init: %w", c.ID, err)
	}

	setPending(c.ID, len(c.Authenticator.Pending()))

	return nil
}

func (c *Chain) Stop(ctx context.Context) error {
	return c.Dispatcher.Disconnect(ctx)
}

func (c *Chain) isCacheable(req *Request) bool {
	if !c.cacheable[req.data.Method] {
		return false
	}

	if approval, err := c.Authenticator.RequiresApproval(req.data); err != nil || approval {
		return false
	}

	return req.isPinned()
}

func (c *Chain) healthCheck(ctx context.Context) {
	for _, set := range c.upstreams {
		set.healthCheck(ctx)
	}
}

func (c *Chain) health() []provider.NodeInfo {
	nodesInfo := []provider.NodeInfo{}
	for _, set := range c.upstreams {
		nodesInfo = append(nodesInfo, set.health()...)
	}
	return nodesInfo
}

// runHealthCheck probes the upstreams every interval until ctx is done.
func (c *Chain) runHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.healthCheck(ctx)

	for {
		select {
		case <-ticker.C:
			c.healthCheck(ctx)
		case <-ctx.Done():
			logrus.Infof("chain %d healthCheck closed...", c.ID)
			return
		}
	}
}

// watchPending keeps the pending gauge in sync until ctx is done.
func (c *Chain) watchPending(ctx context.Context) {
	pendingCh := make(chan *jsonrpc.Request, 16)
	resolvedCh := make(chan *jsonrpc.Response, 16)

	pendingSub := c.Authenticator.SubscribePending(pendingCh)
	defer pendingSub.Unsubscribe()

	resolvedSub := c.Authenticator.SubscribeResolved(resolvedCh)
	defer resolvedSub.Unsubscribe()

	for {
		select {
		case <-pendingCh:
		case <-resolvedCh:
		case <-ctx.Done():
			return
		}
		setPending(c.ID, len(c.Authenticator.Pending()))
	}
}
