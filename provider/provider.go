package provider

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
)

// Requester executes a JSON-RPC request and returns its raw result. A
// JSON-RPC error answered by the backend is returned as *jsonrpc.Error.
type Requester interface {
	Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)
}

type Connector interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

type EventSource interface {
	On(event string, l Listener)
	Once(event string, l Listener)
	Off(event string, l Listener)
}

// Provider is a named downstream JSON-RPC backend.
type Provider interface {
	Requester
	Connector
	EventSource
}

// NodeInfo is reported by providers that track their own liveness.
type NodeInfo struct {
	RpcUrl      string `json:"rpcUrl"` // only first 30 chars
	Latency     string `json:"latency"`
	IsAlive     bool   `json:"isAlive"`
	BlockNumber uint64 `json:"blockNumber"`
}

type HealthReporter interface {
	Health() NodeInfo
}

// New picks the transport from the url scheme.
func New(rawURL string) (Provider, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, jsonrpc.ConfigErrorf("invalid provider url %s: %v", rawURL, err)
	}

	switch u.Scheme {
	case "http", "https":
		return NewHTTPProvider(u.String()), nil
	case "ws", "wss":
		return NewWSProvider(u.String()), nil
	}

	return nil, jsonrpc.ConfigErrorf("unsupported url schema %s", u.Scheme)
}

func trimURL(u string) string {
	if len(u) > 30 {
		return u[:30]
	}
	return u
}
