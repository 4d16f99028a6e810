package multi

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/router"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	provider.Emitter

	name       string
	connects   int32
	connectErr error
}

func (f *fakeProvider) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if req.Method == "eth_fail" {
		return nil, errors.New("backend down")
	}
	return json.Marshal(f.name + ":" + req.Method)
}

func (f *fakeProvider) Connect(ctx context.Context) error {
	atomic.AddInt32(&f.connects, 1)
	return f.connectErr
}

func (f *fakeProvider) Disconnect(ctx context.Context) error {
	return nil
}

func newTestProvider(t *testing.T) (*Provider, *fakeProvider, *fakeProvider) {
	http := &fakeProvider{name: "http"}
	signer := &fakeProvider{name: "signer"}

	p, err := New(Config{
		Providers: map[string]provider.Provider{"http": http, "signer": signer},
		Routes: router.Routes{
			"http":   {"eth_*"},
			"signer": {"eth_accounts", "eth_sendTransaction"},
		},
		Schemas: validator.EthereumSchemas(),
	})
	require.NoError(t, err)

	return p, http, signer
}

func TestNewAsymmetric(t *testing.T) {
	_, err := New(Config{
		Providers: map[string]provider.Provider{"http": &fakeProvider{}, "signer": &fakeProvider{}},
		Routes:    router.Routes{"http": {"*"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
	assert.Contains(t, err.Error(), "Providers are configured for missing routes")
	assert.Contains(t, err.Error(), "signer")

	_, err = New(Config{
		Providers: map[string]provider.Provider{"http": &fakeProvider{}},
		Routes:    router.Routes{"http": {"eth_*"}, "ws": {"eth_subscribe"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
	assert.Contains(t, err.Error(), "Routes are configured for missing providers")
	assert.Contains(t, err.Error(), "ws")
}

func TestNewInvalidRoute(t *testing.T) {
	_, err := New(Config{
		Providers: map[string]provider.Provider{"http": &fakeProvider{}},
		Routes:    router.Routes{"http": {"eth+"}},
	})
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
}

func TestAssertRequest(t *testing.T) {
	p, _, _ := newTestProvider(t)

	req, _ := jsonrpc.NewRequest("net_version", []interface{}{})
	res := p.AssertRequest(req)
	require.NotNil(t, res)
	assert.Equal(t, req.ID, res.ID)
	assert.Equal(t, jsonrpc.MethodNotFound, res.Error.Code)

	req, _ = jsonrpc.NewRequest("eth_getBalance", []interface{}{"not an address"})
	res = p.AssertRequest(req)
	require.NotNil(t, res)
	assert.Equal(t, jsonrpc.InvalidRequest, res.Error.Code)

	req, _ = jsonrpc.NewRequest("eth_getBalance", []interface{}{"0x06898143df04616a8a8f9614deb3b99ba12b3096", "latest"})
	assert.Nil(t, p.AssertRequest(req))

	// routable but without a schema
	req, _ = jsonrpc.NewRequest("eth_gasPrice", []interface{}{})
	assert.Nil(t, p.AssertRequest(req))
}

func TestRequest(t *testing.T) {
	p, _, _ := newTestProvider(t)
	ctx := context.Background()

	req, _ := jsonrpc.NewRequest("eth_chainId", []interface{}{})
	result, err := p.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"http:eth_chainId"`), result)

	req, _ = jsonrpc.NewRequest("eth_accounts", []interface{}{})
	result, err = p.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"signer:eth_accounts"`), result)

	req, _ = jsonrpc.NewRequest("net_version", []interface{}{})
	_, err = p.Request(ctx, req)
	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.MethodNotFound, rpcErr.Code)

	req, _ = jsonrpc.NewRequest("eth_fail", []interface{}{})
	_, err = p.Request(ctx, req)
	assert.EqualError(t, err, "backend down")
}

func TestConnect(t *testing.T) {
	p, http, signer := newTestProvider(t)

	require.NoError(t, p.Connect(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&http.connects))
	assert.Equal(t, int32(1), atomic.LoadInt32(&signer.connects))

	signer.connectErr = errors.New("no key")
	assert.EqualError(t, p.Connect(context.Background()), "no key")
	assert.Equal(t, int32(2), atomic.LoadInt32(&http.connects))
}

func TestEventsFanOut(t *testing.T) {
	p, http, signer := newTestProvider(t)

	calls := 0
	l := provider.NewListener(func(string, interface{}) { calls++ })

	p.On(provider.EventError, l)
	http.Emit(provider.EventError, nil)
	signer.Emit(provider.EventError, nil)
	assert.Equal(t, 2, calls)

	p.Off(provider.EventError, l)
	http.Emit(provider.EventError, nil)
	assert.Equal(t, 2, calls)

	p.Once(provider.EventConnect, l)
	http.Emit(provider.EventConnect, nil)
	http.Emit(provider.EventConnect, nil)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, signer.ListenerCount(provider.EventConnect))
}
