package validator

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x06898143df04616a8a8f9614deb3b99ba12b3096"

func newEthereumValidator(t *testing.T) *Validator {
	v, err := New(EthereumSchemas())
	require.NoError(t, err)
	return v
}

func TestIsSupported(t *testing.T) {
	v := newEthereumValidator(t)

	assert.True(t, v.IsSupported("eth_sendTransaction"))
	assert.False(t, v.IsSupported("eth_getLogs"))

	_, err := v.GetSchema("eth_getLogs")
	assert.True(t, errors.Is(err, jsonrpc.ErrMethodNotSupported))

	schema, err := v.GetSchema("eth_sendTransaction")
	require.NoError(t, err)
	assert.True(t, schema.UserApproval)

	_, ok := v.Lookup("eth_chainId")
	assert.True(t, ok)
	assert.Contains(t, v.Methods(), "personal_sign")
}

func TestValidateRequest(t *testing.T) {
	v := newEthereumValidator(t)

	valid := &jsonrpc.Request{ID: 1, JSONRPC: "2.0", Method: "eth_sendTransaction",
		Params: json.RawMessage(`[{"from":"` + testAccount + `","to":"` + testAccount + `","value":"0x1"}]`)}
	res, err := v.Validate(valid, "")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Error)

	missingFrom := &jsonrpc.Request{ID: 2, JSONRPC: "2.0", Method: "eth_sendTransaction",
		Params: json.RawMessage(`[{"to":"` + testAccount + `"}]`)}
	res, err = v.Validate(missingFrom, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Error)

	notAnArray := &jsonrpc.Request{ID: 3, JSONRPC: "2.0", Method: "eth_chainId", Params: json.RawMessage(`{"a":1}`)}
	res, err = v.Validate(notAnArray, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	malformed := &jsonrpc.Request{ID: 4, JSONRPC: "2.0", Method: "eth_chainId", Params: json.RawMessage(`[1,`)}
	res, err = v.Validate(malformed, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)

	_, err = v.Validate(&jsonrpc.Request{ID: 5, Method: "eth_getLogs"}, "")
	assert.True(t, errors.Is(err, jsonrpc.ErrMethodNotSupported))
}

func TestValidateResult(t *testing.T) {
	v := newEthereumValidator(t)

	result := &jsonrpc.Response{ID: 1, JSONRPC: "2.0", Result: json.RawMessage(`["` + testAccount + `"]`)}

	_, err := v.Validate(result, "")
	assert.True(t, errors.Is(err, jsonrpc.ErrMissingMethodContext))

	res, err := v.Validate(result, "eth_accounts")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Validate(&jsonrpc.Response{ID: 1, Result: json.RawMessage(`[1]`)}, "eth_accounts")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestValidateError(t *testing.T) {
	v := newEthereumValidator(t)

	res, err := v.Validate(jsonrpc.FormatError(1, jsonrpc.MethodNotFound), "")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = v.Validate(&jsonrpc.Response{ID: 1, Error: &jsonrpc.Error{Code: -32000}}, "")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestInvalidSchemaIsConfigError(t *testing.T) {
	_, err := New(Schemas{"eth_x": {Params: map[string]interface{}{"type": 12}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, jsonrpc.ErrConfig))
}

func TestYamlStyleSchema(t *testing.T) {
	v, err := New(Schemas{"eth_x": {Params: map[interface{}]interface{}{"type": "array"}}})
	require.NoError(t, err)

	res, err := v.Validate(&jsonrpc.Request{Method: "eth_x", Params: json.RawMessage(`[]`)}, "")
	require.NoError(t, err)
	assert.True(t, res.Valid)

	schema, _ := v.Lookup("eth_x")
	assert.Equal(t, "eth_x", schema.Name)
}

func TestLoadSchemas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schemas.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{
		"eth_chainId": {"name": "eth_chainId", "params": {"type": "array"}, "result": {"type": "string"}},
		"eth_sign": {"name": "eth_sign", "params": {"type": "array"}, "userApproval": true}
	}`), 0o600))

	schemas, err := LoadSchemas(path)
	require.NoError(t, err)
	assert.Len(t, schemas, 2)
	assert.True(t, schemas["eth_sign"].UserApproval)

	_, err = New(schemas)
	require.NoError(t, err)
}
