package core

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Request is one inbound call together with the logger used while serving it.
type Request struct {
	logger   *logrus.Entry
	chainId  uint64
	data     *jsonrpc.Request
	reqBytes []byte
}

// newRequest parses an inbound body. On failure it still returns a Request
// carrying the best known id, together with the error envelope to answer.
func newRequest(chainId uint64, reqBodyBytes []byte) (*Request, *jsonrpc.Response) {
	logger := logrus.WithFields(logrus.Fields{"request_id": uuid.New().String(), "chain_id": chainId})

	req := &Request{
		logger:   logger,
		chainId:  chainId,
		data:     &jsonrpc.Request{},
		reqBytes: reqBodyBytes,
	}

	body := bytes.TrimSpace(reqBodyBytes)

	if !gjson.ValidBytes(body) {
		logger.Debugf("unparsable body: %s", string(body))
		return req, jsonrpc.FormatError(0, jsonrpc.ParseError)
	}

	parsed := gjson.ParseBytes(body)

	if parsed.IsArray() {
		return req, jsonrpc.FormatErrorMessage(0, jsonrpc.InvalidRequest, "batch requests are not supported")
	}

	id := parsed.Get("id")
	req.data.ID = id.Int()

	if !parsed.IsObject() || !parsed.Get("method").Exists() || parsed.Get("method").Type != gjson.String {
		return req, jsonrpc.FormatError(req.data.ID, jsonrpc.InvalidRequest)
	}

	if id.Type != gjson.Number {
		return req, jsonrpc.FormatErrorMessage(req.data.ID, jsonrpc.InvalidRequest, "notifications are not supported, a numeric id is required")
	}

	if err := json.Unmarshal(body, req.data); err != nil {
		return req, jsonrpc.FormatError(req.data.ID, jsonrpc.InvalidRequest)
	}

	if req.data.JSONRPC == "" {
		req.data.JSONRPC = jsonrpc.Version
	}

	logger.Debugf("New, method: %s", req.data.Method)
	logger.Debugf("Request Body: %s", string(reqBodyBytes))

	return req, nil
}

// blockParamIndex is the position of the block tag parameter for methods
// whose answer depends on it.
var blockParamIndex = map[string]int{
	"eth_getBalance":                          1,
	"eth_getCode":                             1,
	"eth_getTransactionCount":                 1,
	"eth_call":                                1,
	"eth_estimateGas":                         1,
	"eth_getStorageAt":                        2,
	"eth_getProof":                            2,
	"eth_getBlockByNumber":                    0,
	"eth_getBlockReceipts":                    0,
	"eth_getBlockTransactionCountByNumber":    0,
	"eth_getTransactionByBlockNumberAndIndex": 0,
	"eth_getUncleByBlockNumberAndIndex":       0,
	"eth_getUncleCountByBlockNumber":          0,
}

// isPinned reports whether the answer cannot change anymore: the request
// either names no block at all or a concrete block number.
func (r *Request) isPinned() bool {
	index, ok := blockParamIndex[r.data.Method]
	if !ok {
		return true
	}

	param := gjson.GetBytes(r.data.Params, strconv.Itoa(index))
	if !param.Exists() {
		// defaults to latest
		return false
	}

	switch param.Type {
	case gjson.Number:
		return true
	case gjson.String:
		switch param.String() {
		case "latest", "pending", "safe", "finalized", "earliest":
			return false
		}
		_, err := strconv.ParseUint(param.String(), 0, 64)
		return err == nil
	case gjson.JSON:
		// EIP-1898 block object, pinned only by hash
		return param.Get("blockHash").Exists()
	}

	return false
}
