package multi

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/router"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/validator"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Providers map[string]provider.Provider
	Routes    router.Routes
	// Schemas is optional. Without it every routable request is accepted.
	Schemas validator.Schemas
}

// Provider dispatches each request to the backend its method routes to.
type Provider struct {
	providers map[string]provider.Provider
	router    *router.Router
	validator *validator.Validator
}

var _ provider.Provider = &Provider{}

func New(config Config) (*Provider, error) {
	if missing := missingKeys(config.Routes, config.Providers); len(missing) > 0 {
		return nil, jsonrpc.ConfigErrorf("Routes are configured for missing providers: %s", strings.Join(missing, ", "))
	}

	if missing := missingKeys(config.Providers, config.Routes); len(missing) > 0 {
		return nil, jsonrpc.ConfigErrorf("Providers are configured for missing routes: %s", strings.Join(missing, ", "))
	}

	r, err := router.New(config.Routes)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		providers: make(map[string]provider.Provider, len(config.Providers)),
		router:    r,
	}

	for name, backend := range config.Providers {
		p.providers[name] = backend
	}

	if config.Schemas != nil {
		if p.validator, err = validator.New(config.Schemas); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// missingKeys returns the keys of have that are absent from want.
func missingKeys[A, B any](have map[string]A, want map[string]B) []string {
	var missing []string
	for k := range have {
		if _, ok := want[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// AssertRequest returns the error envelope the request deserves, or nil when
// it can be forwarded.
func (p *Provider) AssertRequest(req *jsonrpc.Request) *jsonrpc.Response {
	if !p.router.IsSupported(req.Method) {
		return jsonrpc.FormatError(req.ID, jsonrpc.MethodNotFound)
	}

	if p.validator != nil && p.validator.IsSupported(req.Method) {
		res, err := p.validator.ValidateRequest(req)
		if err != nil || !res.Valid {
			logrus.Debugf("%s rejected by validator: %s", req.Method, res.Error)
			return jsonrpc.FormatError(req.ID, jsonrpc.InvalidRequest)
		}
	}

	return nil
}

func (p *Provider) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	if res := p.AssertRequest(req); res != nil {
		return nil, res.Error
	}

	name, _ := p.router.Target(req.Method)
	return p.providers[name].Request(ctx, req)
}

func (p *Provider) IsSupported(method string) bool {
	return p.router.IsSupported(method)
}

func (p *Provider) Target(method string) (string, bool) {
	return p.router.Target(method)
}

func (p *Provider) Provider(name string) (provider.Provider, bool) {
	backend, ok := p.providers[name]
	return backend, ok
}

func (p *Provider) Router() *router.Router {
	return p.router
}

// Connect connects every backend concurrently and waits for all of them.
func (p *Provider) Connect(ctx context.Context) error {
	return p.each(ctx, func(ctx context.Context, backend provider.Provider) error {
		return backend.Connect(ctx)
	})
}

func (p *Provider) Disconnect(ctx context.Context) error {
	return p.each(ctx, func(ctx context.Context, backend provider.Provider) error {
		return backend.Disconnect(ctx)
	})
}

func (p *Provider) each(ctx context.Context, fn func(context.Context, provider.Provider) error) error {
	var g errgroup.Group

	for name, backend := range p.providers {
		name, backend := name, backend
		g.Go(func() error {
			if err := fn(ctx, backend); err != nil {
				logrus.Errorf("provider %s: %v", name, err)
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

func (p *Provider) On(event string, l provider.Listener) {
	for _, backend := range p.providers {
		backend.On(event, l)
	}
}

func (p *Provider) Once(event string, l provider.Listener) {
	for _, backend := range p.providers {
		backend.Once(event, l)
	}
}

func (p *Provider) Off(event string, l provider.Listener) {
	for _, backend := range p.providers {
		backend.Off(event, l)
	}
}
