package validator

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strings"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/xeipuuv/gojsonschema"
)

// MethodSchema describes one JSON-RPC method. Params and Result are JSON
// Schema documents; a nil schema accepts anything.
type MethodSchema struct {
	Name         string      `json:"name" yaml:"name" toml:"name"`
	Description  string      `json:"description" yaml:"description" toml:"description"`
	Params       interface{} `json:"params" yaml:"params" toml:"params"`
	Result       interface{} `json:"result" yaml:"result" toml:"result"`
	UserApproval bool        `json:"userApproval" yaml:"userApproval" toml:"userApproval"`
}

// Schemas is keyed by method name.
type Schemas map[string]MethodSchema

type Validation struct {
	Valid bool
	Error string
}

type compiled struct {
	schema MethodSchema
	params *gojsonschema.Schema
	result *gojsonschema.Schema
}

type Validator struct {
	methods map[string]*compiled
}

// New compiles every schema up front; a schema that does not compile is a
// configuration error.
func New(schemas Schemas) (*Validator, error) {
	v := &Validator{methods: make(map[string]*compiled, len(schemas))}

	for method, schema := range schemas {
		if schema.Name == "" {
			schema.Name = method
		}

		params, err := compile(schema.Params)
		if err != nil {
			return nil, jsonrpc.ConfigErrorf("params schema of %s: %v", method, err)
		}

		result, err := compile(schema.Result)
		if err != nil {
			return nil, jsonrpc.ConfigErrorf("result schema of %s: %v", method, err)
		}

		v.methods[method] = &compiled{schema: schema, params: params, result: result}
	}

	return v, nil
}

func compile(doc interface{}) (*gojsonschema.Schema, error) {
	if doc == nil {
		return nil, nil
	}

	// yaml and toml decoders produce map[interface{}]interface{} or typed
	// maps, round-trip through json so the loader sees plain JSON values
	bts, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, err
	}

	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(bts))
}

// Lookup is the total lookup; ok is false when method has no schema.
func (v *Validator) Lookup(method string) (MethodSchema, bool) {
	c, ok := v.methods[method]
	if !ok {
		return MethodSchema{}, false
	}
	return c.schema, true
}

func (v *Validator) IsSupported(method string) bool {
	_, ok := v.methods[method]
	return ok
}

func (v *Validator) GetSchema(method string) (MethodSchema, error) {
	schema, ok := v.Lookup(method)
	if !ok {
		return MethodSchema{}, fmt.Errorf("%w: %s", jsonrpc.ErrMethodNotSupported, method)
	}
	return schema, nil
}

// Methods returns the sorted names of every configured method.
func (v *Validator) Methods() []string {
	res := make([]string, 0, len(v.methods))
	for method := range v.methods {
		res = append(res, method)
	}
	sort.Strings(res)
	return res
}

// Validate checks a request against its params schema, a result against the
// result schema of method, and an error against the error object shape.
// Only a missing schema or a result without method produce an error; bad
// payloads are reported through the returned Validation.
func (v *Validator) Validate(payload jsonrpc.Payload, method string) (Validation, error) {
	switch p := payload.(type) {
	case *jsonrpc.Request:
		c, err := v.get(p.Method)
		if err != nil {
			return Validation{}, err
		}
		return check(c.params, p.Params), nil

	case *jsonrpc.Response:
		if p.Error != nil {
			return validateError(p.Error), nil
		}

		if method == "" {
			return Validation{}, jsonrpc.ErrMissingMethodContext
		}

		c, err := v.get(method)
		if err != nil {
			return Validation{}, err
		}
		return check(c.result, p.Result), nil
	}

	return Validation{Valid: false, Error: fmt.Sprintf("unknown payload type %T", payload)}, nil
}

// ValidateRequest is shorthand for Validate on a request.
func (v *Validator) ValidateRequest(req *jsonrpc.Request) (Validation, error) {
	return v.Validate(req, "")
}

func (v *Validator) get(method string) (*compiled, error) {
	c, ok := v.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", jsonrpc.ErrMethodNotSupported, method)
	}
	return c, nil
}

func check(schema *gojsonschema.Schema, doc json.RawMessage) Validation {
	if schema == nil {
		return Validation{Valid: true}
	}

	if len(doc) == 0 {
		doc = json.RawMessage("null")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return Validation{Valid: false, Error: err.Error()}
	}

	if result.Valid() {
		return Validation{Valid: true}
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}

	return Validation{Valid: false, Error: strings.Join(msgs, "; ")}
}

func validateError(e *jsonrpc.Error) Validation {
	if strings.TrimSpace(e.Message) == "" {
		return Validation{Valid: false, Error: "error message is empty"}
	}
	return Validation{Valid: true}
}

// LoadSchemas reads a JSON file holding a method => schema map.
func LoadSchemas(path string) (Schemas, error) {
	bts, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	schemas := Schemas{}
	if err := json.Unmarshal(bts, &schemas); err != nil {
		return nil, fmt.Errorf("parse schemas %s: %w", path, err)
	}

	return schemas, nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = normalize(val)
		}
		return m
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, val := range t {
			m[k] = normalize(val)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, val := range t {
			s[i] = normalize(val)
		}
		return s
	default:
		return v
	}
}
