package validator

var anyArray = map[string]interface{}{
	"type":  "array",
	"items": map[string]interface{}{},
}

var hexString = map[string]interface{}{
	"type":    "string",
	"pattern": "^0x[0-9a-fA-F]*$",
}

var address = map[string]interface{}{
	"type":    "string",
	"pattern": "^0x[0-9a-fA-F]{40}$",
}

// EthereumTransactionSchema describes the object accepted by
// eth_sendTransaction.
var EthereumTransactionSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"from"},
	"properties": map[string]interface{}{
		"from":     address,
		"to":       address,
		"gas":      hexString,
		"gasPrice": hexString,
		"value":    hexString,
		"data":     hexString,
		"nonce":    hexString,
	},
}

// EthereumSigningMethods require user approval by default.
var EthereumSigningMethods = []string{
	"eth_sign",
	"eth_signTypedData",
	"eth_sendTransaction",
	"personal_sign",
}

// EthereumSchemas returns the default method set used when a chain does not
// declare its own.
func EthereumSchemas() Schemas {
	return Schemas{
		"eth_blockNumber": {
			Name:        "eth_blockNumber",
			Description: "Fetches highest block number",
			Params:      anyArray,
			Result:      hexString,
		},
		"eth_chainId": {
			Name:        "eth_chainId",
			Description: "Fetches chain identifier",
			Params:      anyArray,
			Result:      hexString,
		},
		"eth_getBalance": {
			Name:        "eth_getBalance",
			Description: "Fetches the balance of an account",
			Params: map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"maxItems": 2,
				"items":    []interface{}{address, map[string]interface{}{"type": "string"}},
			},
			Result: hexString,
		},
		"eth_accounts": {
			Name:        "eth_accounts",
			Description: "Exposes user account addresses",
			Params:      anyArray,
			Result: map[string]interface{}{
				"type":  "array",
				"items": address,
			},
		},
		"eth_sign": {
			Name:        "eth_sign",
			Description: "Signs data with the given account",
			Params: map[string]interface{}{
				"type":     "array",
				"minItems": 2,
				"maxItems": 2,
				"items":    []interface{}{address, hexString},
			},
			Result:       hexString,
			UserApproval: true,
		},
		"personal_sign": {
			Name:        "personal_sign",
			Description: "Signs a message with the given account",
			Params: map[string]interface{}{
				"type":     "array",
				"minItems": 2,
				"items":    []interface{}{hexString, address},
			},
			Result:       hexString,
			UserApproval: true,
		},
		"eth_signTypedData": {
			Name:        "eth_signTypedData",
			Description: "Signs typed structured data with the given account",
			Params: map[string]interface{}{
				"type":     "array",
				"minItems": 2,
			},
			Result:       hexString,
			UserApproval: true,
		},
		"eth_sendTransaction": {
			Name:        "eth_sendTransaction",
			Description: "Creates, signs, and sends a new transaction to the network",
			Params: map[string]interface{}{
				"type":     "array",
				"minItems": 1,
				"maxItems": 1,
				"items":    EthereumTransactionSchema,
			},
			Result:       hexString,
			UserApproval: true,
		},
	}
}
