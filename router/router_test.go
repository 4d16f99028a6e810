package router

import (
	"errors"
	"testing"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ethereumSigningMethods = []string{
	"eth_sign",
	"eth_signTypedData",
	"eth_sendTransaction",
	"personal_sign",
}

func ethereumRoutes() Routes {
	return Routes{
		"http":   {"eth_*"},
		"signer": append([]string{"eth_accounts"}, ethereumSigningMethods...),
	}
}

func TestValidRoutes(t *testing.T) {
	for _, route := range []string{"eth_chainId", "eth_*", "*", "eth_sign*", "*_blockNumber"} {
		assert.True(t, IsValidRoute(route), route)
	}

	for _, route := range []string{"eth+", "**", "eth_sign*Typed", "", "a*b", "*eth*"} {
		assert.False(t, IsValidRoute(route), route)
	}

	assert.True(t, IsValidTrailingWildcardRoute("eth_*"))
	assert.False(t, IsValidTrailingWildcardRoute("*"))
	assert.True(t, IsValidLeadingWildcardRoute("*_blockNumber"))
	assert.False(t, IsValidLeadingWildcardRoute("eth_*"))
}

func TestInvalidRouteFailsConstruction(t *testing.T) {
	for _, route := range []string{"eth+", "**", "eth_sign*Typed"} {
		_, err := New(Routes{"http": {route}})
		require.Error(t, err, route)
		assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
	}
}

func TestGetTarget(t *testing.T) {
	r, err := New(ethereumRoutes())
	require.NoError(t, err)

	target, ok := r.Target("eth_chainId")
	assert.True(t, ok)
	assert.Equal(t, "http", target)

	target, ok = r.Target("eth_accounts")
	assert.True(t, ok)
	assert.Equal(t, "signer", target)

	target, ok = r.Target("personal_sign")
	assert.True(t, ok)
	assert.Equal(t, "signer", target)

	_, ok = r.Target("net_version")
	assert.False(t, ok)
	assert.False(t, r.IsSupported("net_version"))
	assert.True(t, r.IsSupported("eth_blockNumber"))
}

func TestResolutionOrder(t *testing.T) {
	r, err := New(Routes{
		"exact":    {"eth_blockNumber"},
		"trailing": {"eth_*"},
		"leading":  {"*_blockNumber"},
		"fallback": {"*"},
	})
	require.NoError(t, err)

	cases := map[string]string{
		"eth_blockNumber":    "exact",
		"eth_getBalance":     "trailing",
		"bor_blockNumber":    "leading",
		"net_version":        "fallback",
		"eth_":               "trailing",
		"web3_clientVersion": "fallback",
	}

	for method, expected := range cases {
		target, ok := r.Target(method)
		assert.True(t, ok, method)
		assert.Equal(t, expected, target, method)
	}
}

func TestLongestWildcardWins(t *testing.T) {
	routes := Routes{
		"http":   {"eth_*"},
		"signer": {"eth_sign*"},
		"logs":   {"*Logs"},
		"filter": {"*FilterLogs"},
	}

	for i := 0; i < 20; i++ {
		r, err := New(routes)
		require.NoError(t, err)

		target, _ := r.Target("eth_signTypedData")
		assert.Equal(t, "signer", target)

		target, _ = r.Target("eth_call")
		assert.Equal(t, "http", target)

		target, _ = r.Target("bor_getFilterLogs")
		assert.Equal(t, "filter", target)

		target, _ = r.Target("bor_getLogs")
		assert.Equal(t, "logs", target)
	}
}

func TestConflictingRoutes(t *testing.T) {
	_, err := New(Routes{
		"http":   {"eth_*", "eth_accounts"},
		"signer": {"eth_accounts"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))

	_, err = New(Routes{"http": {}})
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
}

func TestRegisterIsAtomic(t *testing.T) {
	r, err := New(Routes{"http": {"eth_*"}})
	require.NoError(t, err)

	err = r.Register(Routes{"ws": {"eth_subscribe", "eth+"}})
	require.Error(t, err)

	assert.Equal(t, map[string]string{"eth_*": "http"}, r.Routes())

	require.NoError(t, r.Register(Routes{"ws": {"eth_subscribe"}}))
	target, _ := r.Target("eth_subscribe")
	assert.Equal(t, "ws", target)
	assert.Equal(t, []string{"http", "ws"}, r.Backends())
}

func TestTargetIsIdempotent(t *testing.T) {
	r, err := New(ethereumRoutes())
	require.NoError(t, err)

	first, _ := r.Target("eth_getBalance")
	for i := 0; i < 10; i++ {
		again, _ := r.Target("eth_getBalance")
		assert.Equal(t, first, again)
	}
}
