package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var TimeoutError = fmt.Errorf("timeout error")
var AllUpstreamsFailedError = fmt.Errorf("all upstream requests are failed")
var NoValidUpstreamError = fmt.Errorf("no valid upstream")

const (
	raceTimeout      = 10 * time.Second
	fallbackCooldown = 5 * time.Second
)

// newStrategyProvider combines the upstreams of one provider entry into a
// single provider.
func newStrategyProvider(cfg ProviderConfig) (provider.Provider, error) {
	if len(cfg.Upstreams) == 0 {
		return nil, jsonrpc.ConfigErrorf("need upstreams")
	}

	ups := &upstreams{}
	for _, url := range cfg.Upstreams {
		p, err := provider.New(url)
		if err != nil {
			return nil, err
		}
		ups.list = append(ups.list, p)
	}

	strategy := strings.ToUpper(cfg.Strategy)
	if strategy == "" && len(ups.list) == 1 {
		strategy = "NAIVE"
	}

	switch strategy {
	case "NAIVE":
		if len(ups.list) > 1 {
			return nil, jsonrpc.ConfigErrorf("naive proxy strategy require exact 1 upstream")
		}
		return newNaiveProxy(ups), nil
	case "RACE":
		if len(ups.list) < 2 {
			return nil, jsonrpc.ConfigErrorf("race proxy strategy require more than 1 upstream")
		}
		return newRaceProxy(ups), nil
	case "FALLBACK":
		if len(ups.list) < 2 {
			return nil, jsonrpc.ConfigErrorf("fallback proxy strategy require more than 1 upstream")
		}
		return newFallbackProxy(ups), nil
	case "BALANCING":
		if len(ups.list) < 2 {
			return nil, jsonrpc.ConfigErrorf("loadbalance proxy strategy require more than 1 upstream")
		}
		return newLoadBalanceFallbackProxy(ups), nil
	}

	return nil, jsonrpc.ConfigErrorf("blank of unsupported strategy: %s", cfg.Strategy)
}

type blockNumberUpdater interface {
	UpdateBlockNumber(ctx context.Context)
}

type latencyReporter interface {
	Latency() time.Duration
}

// upstreams is the part shared by every strategy: lifecycle and events fan
// out to all upstreams, and the health check keeps them sorted by latency.
type upstreams struct {
	updateLocker sync.RWMutex
	list         []provider.Provider
}

func (u *upstreams) snapshot() []provider.Provider {
	u.updateLocker.RLock()
	defer u.updateLocker.RUnlock()
	return append([]provider.Provider(nil), u.list...)
}

func (u *upstreams) Connect(ctx context.Context) error {
	var g errgroup.Group
	for _, up := range u.snapshot() {
		up := up
		g.Go(func() error { return up.Connect(ctx) })
	}
	return g.Wait()
}

func (u *upstreams) Disconnect(ctx context.Context) error {
	var g errgroup.Group
	for _, up := range u.snapshot() {
		up := up
		g.Go(func() error { return up.Disconnect(ctx) })
	}
	return g.Wait()
}

func (u *upstreams) On(event string, l provider.Listener) {
	for _, up := range u.snapshot() {
		up.On(event, l)
	}
}

func (u *upstreams) Once(event string, l provider.Listener) {
	for _, up := range u.snapshot() {
		up.Once(event, l)
	}
}

func (u *upstreams) Off(event string, l provider.Listener) {
	for _, up := range u.snapshot() {
		up.Off(event, l)
	}
}

func (u *upstreams) healthCheck(ctx context.Context) {
	var wg sync.WaitGroup
	for _, up := range u.snapshot() {
		updater, ok := up.(blockNumberUpdater)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(updater blockNumberUpdater) {
			updater.UpdateBlockNumber(ctx)
			wg.Done()
		}(updater)
	}

	wg.Wait()

	u.updateLocker.Lock()
	sort.SliceStable(u.list, func(i, j int) bool {
		return latencyOf(u.list[i]) < latencyOf(u.list[j])
	})
	u.updateLocker.Unlock()

	logrus.Debugf("upstreams updated")
}

func (u *upstreams) health() []provider.NodeInfo {
	nodesInfo := []provider.NodeInfo{}
	for _, up := range u.snapshot() {
		if reporter, ok := up.(provider.HealthReporter); ok {
			nodesInfo = append(nodesInfo, reporter.Health())
		}
	}
	return nodesInfo
}

// latencyOf treats providers without latency tracking as fastest, keeping
// their configured order.
func latencyOf(p provider.Provider) time.Duration {
	if r, ok := p.(latencyReporter); ok {
		return r.Latency()
	}
	return 0
}

// answered reports whether the upstream produced a JSON-RPC reply, as opposed
// to a transport failure.
func answered(err error) bool {
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr)
}

type NaiveProxy struct {
	*upstreams
}

func newNaiveProxy(ups *upstreams) *NaiveProxy {
	return &NaiveProxy{upstreams: ups}
}

func (p *NaiveProxy) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	return p.snapshot()[0].Request(ctx, req)
}

// RaceProxy sends the request to every upstream and returns the first
// successful result. A JSON-RPC error is only returned when no upstream
// succeeds.
type RaceProxy struct {
	*upstreams
}

func newRaceProxy(ups *upstreams) *RaceProxy {
	return &RaceProxy{upstreams: ups}
}

type raceResult struct {
	result json.RawMessage
	err    error
}

func (p *RaceProxy) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	startAt := time.Now()
	list := p.snapshot()

	ctx, cancel := context.WithTimeout(ctx, raceTimeout)
	defer cancel()

	results := make(chan raceResult, len(list))

	for _, upstream := range list {
		go func(upstream provider.Provider) {
			result, err := upstream.Request(ctx, req)
			results <- raceResult{result, err}
		}(upstream)
	}

	var rpcErr error

	for i := 0; i < len(list); i++ {
		select {
		case <-ctx.Done():
			logrus.Debugf("%v race timeout", time.Since(startAt))
			return nil, TimeoutError
		case res := <-results:
			if res.err == nil {
				logrus.Debugf("%v race success", time.Since(startAt))
				return res.result, nil
			}

			if answered(res.err) {
				rpcErr = res.err
			} else {
				logrus.Debugf("%v race upstream failed: %v", time.Since(startAt), res.err)
			}
		}
	}

	if rpcErr != nil {
		return nil, rpcErr
	}

	logrus.Errorf("%v race failed", time.Since(startAt))

	return nil, AllUpstreamsFailedError
}

// FallbackProxy sticks to one upstream and moves to the next one when it
// fails. A failed upstream is skipped for a cooldown period.
type FallbackProxy struct {
	*upstreams

	currentUpstreamIndex int32
	disabled             sync.Map // provider.Provider => struct{}
}

func newFallbackProxy(ups *upstreams) *FallbackProxy {
	return &FallbackProxy{upstreams: ups}
}

func (p *FallbackProxy) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	list := p.snapshot()
	var lastErr error

	for i := 0; i < len(list); i++ {
		index := int(atomic.LoadInt32(&p.currentUpstreamIndex)) % len(list)
		upstream := list[index]

		if _, disabled := p.disabled.Load(upstream); disabled {
			p.switchFrom(index, len(list))
			continue
		}

		result, err := upstream.Request(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err
		next := p.switchFrom(index, len(list))
		logrus.Infof("upstream %d return err %v, switch to %d", index, err, next)

		p.disabled.Store(upstream, struct{}{})
		time.AfterFunc(fallbackCooldown, func() {
			p.disabled.Delete(upstream)
		})
	}

	if lastErr != nil {
		return nil, lastErr
	}

	return nil, NoValidUpstreamError
}

func (p *FallbackProxy) switchFrom(index, size int) int {
	next := (index + 1) % size
	atomic.CompareAndSwapInt32(&p.currentUpstreamIndex, int32(index), int32(next))
	return next
}

// LoadBalanceFallbackProxy rotates through the upstreams on every request and
// tries the next one when an upstream fails.
type LoadBalanceFallbackProxy struct {
	*upstreams

	counter uint32
}

func newLoadBalanceFallbackProxy(ups *upstreams) *LoadBalanceFallbackProxy {
	return &LoadBalanceFallbackProxy{upstreams: ups}
}

func (p *LoadBalanceFallbackProxy) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	list := p.snapshot()
	initialIndex := int(atomic.AddUint32(&p.counter, 1)-1) % len(list)

	var lastErr error
	for i := 0; i < len(list); i++ {
		index := (initialIndex + i) % len(list)

		result, err := list[index].Request(ctx, req)
		if err == nil {
			return result, nil
		}

		lastErr = err
		logrus.Infof("upstream %d load balancing failed, then switch to %d", index, (index+1)%len(list))
	}

	return nil, lastErr
}
