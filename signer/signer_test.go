package signer

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	methods []string
	raw     string
}

func (f *fakeChain) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	f.methods = append(f.methods, req.Method)

	switch req.Method {
	case "eth_getTransactionCount":
		return json.RawMessage(`"0x5"`), nil
	case "eth_gasPrice":
		return json.RawMessage(`"0x3b9aca00"`), nil
	case "eth_estimateGas":
		return json.RawMessage(`"0x5208"`), nil
	case "eth_sendRawTransaction":
		var params []string
		_ = json.Unmarshal(req.Params, &params)
		f.raw = params[0]
		return json.RawMessage(`"0xhash"`), nil
	}

	return nil, errors.New("unexpected method " + req.Method)
}

func newTestSigner(t *testing.T, chain *fakeChain) *KeySigner {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	return NewKeySignerFromKey(key, big.NewInt(1), chain)
}

func TestNewKeySignerInvalidKey(t *testing.T) {
	_, err := NewKeySigner("0xnothex", big.NewInt(1), nil)
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
}

func TestAccounts(t *testing.T) {
	s := newTestSigner(t, nil)

	req, _ := jsonrpc.NewRequest("eth_accounts", []interface{}{})
	result, err := s.Request(context.Background(), req)
	require.NoError(t, err)

	var accs []string
	require.NoError(t, json.Unmarshal(result, &accs))
	assert.Equal(t, []string{strings.ToLower(s.Address().Hex())}, accs)
}

func TestSign(t *testing.T) {
	s := newTestSigner(t, nil)
	data := hexutil.Encode([]byte("hello"))

	for _, req := range []*jsonrpc.Request{
		mustRequest(t, "eth_sign", []string{s.Address().Hex(), data}),
		mustRequest(t, "personal_sign", []string{data, s.Address().Hex()}),
	} {
		result, err := s.Request(context.Background(), req)
		require.NoError(t, err, req.Method)

		var hexSig string
		require.NoError(t, json.Unmarshal(result, &hexSig))

		sig, err := hexutil.Decode(hexSig)
		require.NoError(t, err)
		require.Len(t, sig, 65)
		assert.Contains(t, []byte{27, 28}, sig[64])

		sig[64] -= 27
		pub, err := crypto.SigToPub(accounts.TextHash([]byte("hello")), sig)
		require.NoError(t, err)
		assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
	}
}

func TestSignUnknownAccount(t *testing.T) {
	s := newTestSigner(t, nil)

	req := mustRequest(t, "eth_sign", []string{"0x06898143df04616a8a8f9614deb3b99ba12b3096", "0x00"})
	_, err := s.Request(context.Background(), req)

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.InvalidParams, rpcErr.Code)
}

func TestSendTransaction(t *testing.T) {
	chain := &fakeChain{}
	s := newTestSigner(t, chain)

	req := mustRequest(t, "eth_sendTransaction", []map[string]string{{
		"from":  s.Address().Hex(),
		"to":    "0x06898143df04616a8a8f9614deb3b99ba12b3096",
		"value": "0x1",
	}})

	result, err := s.Request(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"0xhash"`), result)
	assert.Equal(t, []string{"eth_getTransactionCount", "eth_gasPrice", "eth_estimateGas", "eth_sendRawTransaction"}, chain.methods)

	raw, err := hexutil.Decode(chain.raw)
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, uint64(5), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, big.NewInt(1), tx.Value())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestSendTransactionWithoutBroadcaster(t *testing.T) {
	key, _ := crypto.GenerateKey()
	s := NewKeySignerFromKey(key, big.NewInt(1), nil)

	req := mustRequest(t, "eth_sendTransaction", []map[string]string{{"from": s.Address().Hex()}})
	_, err := s.Request(context.Background(), req)
	assert.Equal(t, ErrNoBroadcaster, err)
}

func TestUnknownMethod(t *testing.T) {
	s := newTestSigner(t, nil)

	_, err := s.Request(context.Background(), mustRequest(t, "eth_blockNumber", []interface{}{}))

	var rpcErr *jsonrpc.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, jsonrpc.MethodNotFound, rpcErr.Code)
}

func mustRequest(t *testing.T, method string, params interface{}) *jsonrpc.Request {
	req, err := jsonrpc.NewRequest(method, params)
	require.NoError(t, err)
	return req
}
