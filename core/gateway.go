package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/notify"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Gateway owns the storage, chains and notifier built from one config.
type Gateway struct {
	config   *Config
	store    store.Store
	chains   map[uint64]*Chain
	notifier notify.Notifier
}

// BuildChains creates every configured chain without connecting them.
func BuildChains(cfg *Config, s store.Store) (map[uint64]*Chain, error) {
	if len(cfg.Chains) == 0 {
		return nil, jsonrpc.ConfigErrorf("no chains configured")
	}

	chains := make(map[uint64]*Chain, len(cfg.Chains))
	for key, chainCfg := range cfg.Chains {
		chainId, err := parseChainID(key)
		if err != nil {
			return nil, err
		}

		chain, err := NewChain(chainId, chainCfg, s)
		if err != nil {
			return nil, err
		}
		chains[chainId] = chain
	}

	return chains, nil
}

func NewGateway(ctx context.Context, cfg *Config) (*Gateway, error) {
	s, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	chains, err := BuildChains(cfg, s)
	if err != nil {
		closeStore(s)
		return nil, err
	}

	n, err := newNotifier(cfg.Notifier)
	if err != nil {
		closeStore(s)
		return nil, err
	}

	return &Gateway{
		config:   cfg,
		store:    s,
		chains:   chains,
		notifier: n,
	}, nil
}

func newNotifier(cfg NotifierConfig) (notify.Notifier, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "log":
		return &notify.LogNotifier{}, nil
	case "amqp":
		n, err := notify.NewAMQPNotifier(cfg.AMQP)
		if err != nil {
			return nil, err
		}
		return n, nil
	}

	return nil, jsonrpc.ConfigErrorf("unknown notifier type %s", cfg.Type)
}

func (g *Gateway) Chains() map[uint64]*Chain {
	return g.chains
}

// ChainIDs returns the configured chain ids in ascending order.
func (g *Gateway) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(g.chains))
	for id := range g.chains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Init restores the pending requests of every chain without connecting any
// provider.
func (g *Gateway) Init(ctx context.Context) error {
	for _, chain := range g.chains {
		if err := chain.Authenticator.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run serves until ctx is done, then shuts the server down and disconnects
// the providers.
func (g *Gateway) Run(ctx context.Context) error {
	interval, err := g.config.healthCheckInterval()
	if err != nil {
		return err
	}

	for _, chain := range g.chains {
		if err := chain.Start(ctx); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:    g.config.Listen,
		Handler: NewServer(g.chains, g.config.CacheSize),
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, chain := range g.chains {
		chain := chain
		group.Go(func() error {
			chain.runHealthCheck(ctx, interval)
			return nil
		})
		group.Go(func() error {
			chain.watchPending(ctx)
			return nil
		})

		if g.notifier != nil {
			group.Go(func() error {
				err := notify.Run(ctx, chain.Authenticator, g.notifier)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	group.Go(func() error {
		logrus.Infof("listening on %s", g.config.Listen)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", g.config.Listen, err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.Warnf("server shutdown: %v", err)
		}

		for _, chain := range g.chains {
			if err := chain.Stop(shutdownCtx); err != nil {
				logrus.Warnf("chain %d stop: %v", chain.ID, err)
			}
		}

		return nil
	})

	return group.Wait()
}

func (g *Gateway) Close() error {
	if c, ok := g.notifier.(io.Closer); ok {
		_ = c.Close()
	}
	closeStore(g.store)
	return nil
}

func closeStore(s store.Store) {
	if c, ok := s.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logrus.Warnf("close store: %v", err)
		}
	}
}
