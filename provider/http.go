package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/sirupsen/logrus"
)

const (
	maxIdleConnections int = 200
	requestTimeout     int = 30
)

var httpClient = createHTTPClient()

// createHTTPClient for connection re-use
func createHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConnsPerHost: maxIdleConnections,
		},
		Timeout: time.Duration(requestTimeout) * time.Second,
	}
}

type HTTPProvider struct {
	Emitter

	url         string
	client      *http.Client
	connected   int32
	blockNumber uint64
	latency     int64
}

var _ Provider = &HTTPProvider{}
var _ HealthReporter = &HTTPProvider{}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: httpClient,
	}
}

// Connect has nothing to dial; it only marks the provider usable.
func (p *HTTPProvider) Connect(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&p.connected, 0, 1) {
		logrus.Infof("http provider %s connected", p.url)
		p.Emit(EventConnect, nil)
	}
	return nil
}

func (p *HTTPProvider) Disconnect(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&p.connected, 1, 0) {
		p.Emit(EventDisconnect, nil)
	}
	return nil
}

func (p *HTTPProvider) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	logrus.Debugf("%v handled by %v", req.Method, p.url)

	reqBytes, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, err
	}
	upstreamReq.Header.Set("Content-Type", "application/json")
	upstreamReq.Header.Set("Accept", "application/json")

	res, err := p.client.Do(upstreamReq)
	if err != nil {
		logrus.Errorf("http provider client do request error: %+v", err)
		p.Emit(EventError, err)
		return nil, err
	}
	defer res.Body.Close()

	bts, err := ioutil.ReadAll(res.Body)
	if err != nil {
		logrus.Errorf("http provider io readall error: %+v", err)
		return nil, err
	}

	var response jsonrpc.Response
	if err := json.Unmarshal(bts, &response); err != nil {
		return nil, fmt.Errorf("http provider %s returned status %d with invalid body: %w", p.url, res.StatusCode, err)
	}

	if response.Error != nil {
		return nil, response.Error
	}

	return response.Result, nil
}

// UpdateBlockNumber refreshes latency and head block, marking the provider
// dead when the call fails.
func (p *HTTPProvider) UpdateBlockNumber(ctx context.Context) {
	req, _ := jsonrpc.NewRequest("eth_blockNumber", []interface{}{})

	startTime := time.Now()
	result, err := p.Request(ctx, req)
	if err != nil {
		atomic.StoreInt64(&p.latency, math.MaxInt64)
		return
	}
	atomic.StoreInt64(&p.latency, int64(time.Since(startTime)))

	var hex string
	_ = json.Unmarshal(result, &hex)

	blockNumber, _ := strconv.ParseUint(hex, 0, 64)
	atomic.StoreUint64(&p.blockNumber, blockNumber)
}

// Latency of the last health probe. It is math.MaxInt64 after a failed probe.
func (p *HTTPProvider) Latency() time.Duration {
	return time.Duration(atomic.LoadInt64(&p.latency))
}

func (p *HTTPProvider) Health() NodeInfo {
	latency := atomic.LoadInt64(&p.latency)

	return NodeInfo{
		RpcUrl:      trimURL(p.url),
		Latency:     time.Duration(latency).String(),
		IsAlive:     latency != math.MaxInt64,
		BlockNumber: atomic.LoadUint64(&p.blockNumber),
	}
}

func (p *HTTPProvider) URL() string {
	return p.url
}
