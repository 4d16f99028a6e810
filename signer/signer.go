package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/sirupsen/logrus"
)

var ErrNoBroadcaster = errors.New("signer has no provider to broadcast transactions")

// TxArgs represents the arguments to submit a new transaction.
type TxArgs struct {
	From     common.Address  `json:"from"`
	To       *common.Address `json:"to"`
	Gas      *hexutil.Uint64 `json:"gas"`
	GasPrice *hexutil.Big    `json:"gasPrice"`
	Value    *hexutil.Big    `json:"value"`
	Data     hexutil.Bytes   `json:"data"`
	Nonce    *hexutil.Uint64 `json:"nonce"`
}

// KeySigner is a backend holding one private key. It answers the account and
// signing methods locally and relies on broadcaster for chain state and for
// submitting signed transactions.
type KeySigner struct {
	provider.Emitter

	key         *ecdsa.PrivateKey
	address     common.Address
	chainID     *big.Int
	broadcaster provider.Requester
}

var _ provider.Provider = &KeySigner{}

func NewKeySigner(hexKey string, chainID *big.Int, broadcaster provider.Requester) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, jsonrpc.ConfigErrorf("invalid signer key: %v", err)
	}

	return NewKeySignerFromKey(key, chainID, broadcaster), nil
}

func NewKeySignerFromKey(key *ecdsa.PrivateKey, chainID *big.Int, broadcaster provider.Requester) *KeySigner {
	return &KeySigner{
		key:         key,
		address:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:     chainID,
		broadcaster: broadcaster,
	}
}

func (s *KeySigner) Address() common.Address {
	return s.address
}

func (s *KeySigner) Connect(ctx context.Context) error {
	s.Emit(provider.EventConnect, nil)
	return nil
}

func (s *KeySigner) Disconnect(ctx context.Context) error {
	s.Emit(provider.EventDisconnect, nil)
	return nil
}

func (s *KeySigner) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	switch req.Method {
	case "eth_accounts":
		return json.Marshal([]string{strings.ToLower(s.address.Hex())})

	case "eth_sign":
		var params []string
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 2 {
			return nil, invalidParams("expected [address, data]")
		}
		return s.signMessage(params[0], params[1])

	case "personal_sign":
		var params []string
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) < 2 {
			return nil, invalidParams("expected [data, address]")
		}
		return s.signMessage(params[1], params[0])

	case "eth_sendTransaction":
		var params []TxArgs
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
			return nil, invalidParams("expected [transaction]")
		}
		return s.sendTransaction(ctx, &params[0])
	}

	e := jsonrpc.StandardError(jsonrpc.MethodNotFound)
	return nil, &e
}

func (s *KeySigner) signMessage(account, data string) (json.RawMessage, error) {
	if err := s.checkAccount(account); err != nil {
		return nil, err
	}

	msg, err := hexutil.Decode(data)
	if err != nil {
		// personal_sign accepts plain text too
		msg = []byte(data)
	}

	sig, err := crypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27

	return json.Marshal(hexutil.Encode(sig))
}

func (s *KeySigner) sendTransaction(ctx context.Context, args *TxArgs) (json.RawMessage, error) {
	if args.From != s.address {
		return nil, invalidParams(fmt.Sprintf("unknown account %s", args.From.Hex()))
	}

	if s.broadcaster == nil {
		return nil, ErrNoBroadcaster
	}

	if err := s.fillDefaults(ctx, args); err != nil {
		return nil, err
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(*args.Gas),
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, err
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest("eth_sendRawTransaction", []string{hexutil.Encode(raw)})
	if err != nil {
		return nil, err
	}

	logrus.Infof("signer %s broadcasting transaction %s", s.address.Hex(), signed.Hash().Hex())

	return s.broadcaster.Request(ctx, req)
}

func (s *KeySigner) fillDefaults(ctx context.Context, args *TxArgs) error {
	if args.Nonce == nil {
		var nonce hexutil.Uint64
		if err := s.call(ctx, &nonce, "eth_getTransactionCount", s.address.Hex(), "pending"); err != nil {
			return err
		}
		args.Nonce = &nonce
	}

	if args.GasPrice == nil {
		var price hexutil.Big
		if err := s.call(ctx, &price, "eth_gasPrice"); err != nil {
			return err
		}
		args.GasPrice = &price
	}

	if args.Gas == nil {
		call := map[string]interface{}{"from": args.From, "to": args.To, "data": args.Data}
		if args.Value != nil {
			call["value"] = args.Value
		}

		var gas hexutil.Uint64
		if err := s.call(ctx, &gas, "eth_estimateGas", call); err != nil {
			return err
		}
		args.Gas = &gas
	}

	return nil
}

func (s *KeySigner) call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	req, err := jsonrpc.NewRequest(method, params)
	if err != nil {
		return err
	}

	raw, err := s.broadcaster.Request(ctx, req)
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, result)
}

func (s *KeySigner) checkAccount(account string) error {
	if !common.IsHexAddress(account) || common.HexToAddress(account) != s.address {
		return invalidParams(fmt.Sprintf("unknown account %s", account))
	}
	return nil
}

func invalidParams(msg string) *jsonrpc.Error {
	return &jsonrpc.Error{Code: jsonrpc.InvalidParams, Message: msg}
}
