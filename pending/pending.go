package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/sirupsen/logrus"
)

// Requests keeps the requests awaiting approval for one context, mirrored to
// an optional store after every mutation. Memory is authoritative: a failed
// write is reported but the in-memory change stands.
type Requests struct {
	// mu is held across the persistence write so that writes for the
	// context are applied in mutation order.
	mu      sync.Mutex
	store   store.Store
	context string
	pending []*jsonrpc.Request
}

// New creates a store scoped to namespace. s may be nil, in which case the
// requests live in memory only.
func New(s store.Store, namespace string) *Requests {
	return &Requests{
		store:   s,
		context: namespace,
	}
}

// Init loads the list persisted for namespace, replacing the in-memory one.
// An empty namespace keeps the current context.
func (r *Requests) Init(ctx context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if namespace != "" {
		r.context = namespace
	}

	if r.store == nil {
		return nil
	}

	key, err := r.key()
	if err != nil {
		return err
	}

	bts, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		r.pending = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: restore %s: %v", jsonrpc.ErrPersistence, key, err)
	}

	var restored []*jsonrpc.Request
	if err := json.Unmarshal(bts, &restored); err != nil {
		return fmt.Errorf("%w: decode %s: %v", jsonrpc.ErrPersistence, key, err)
	}

	r.pending = restored
	logrus.Infof("restored %d pending requests for %s", len(restored), r.context)

	return nil
}

func (r *Requests) Context() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.context
}

// Set appends req. Duplicate ids are not checked here.
func (r *Requests) Set(ctx context.Context, req *jsonrpc.Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, req)
	return r.persist(ctx)
}

// Get returns the first request with id.
func (r *Requests) Get(id int64) (*jsonrpc.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, req := range r.pending {
		if req.ID == id {
			return req, true
		}
	}
	return nil, false
}

// Delete removes every request with id.
func (r *Requests) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.pending[:0:0]
	for _, req := range r.pending {
		if req.ID != id {
			kept = append(kept, req)
		}
	}
	r.pending = kept

	return r.persist(ctx)
}

// List returns the pending requests in insertion order.
func (r *Requests) List() []*jsonrpc.Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]*jsonrpc.Request(nil), r.pending...)
}

func (r *Requests) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Requests) key() (string, error) {
	if r.context == "" {
		return "", jsonrpc.ErrMissingContext
	}
	return r.context + ":jsonrpc:pending", nil
}

func (r *Requests) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	key, err := r.key()
	if err != nil {
		return err
	}

	list := r.pending
	if list == nil {
		list = []*jsonrpc.Request{}
	}

	bts, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", jsonrpc.ErrPersistence, key, err)
	}

	if err := r.store.Set(ctx, key, bts); err != nil {
		logrus.Errorf("persist %s failed: %v", key, err)
		return fmt.Errorf("%w: write %s: %v", jsonrpc.ErrPersistence, key, err)
	}

	return nil
}
