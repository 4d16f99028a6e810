package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/pending"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/provider"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/store"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/validator"
	"github.com/sirupsen/logrus"
)

const defaultAccountsMethod = "eth_accounts"

type Config struct {
	// Context namespaces the persisted pending requests, e.g. eip155:1.
	Context string
	Methods validator.Schemas
	// Accounts is the method GetAccounts calls.
	Accounts string
	// ApprovalTimeout bounds how long Resolve waits for a decision. Zero
	// waits until the caller's context is done.
	ApprovalTimeout time.Duration
}

// methodSupporter is implemented by providers that know which methods they
// can route, such as the multi provider.
type methodSupporter interface {
	IsSupported(method string) bool
}

// Authenticator forwards requests to a provider, holding the ones whose
// method requires user approval until Approve or Reject is called for them.
type Authenticator struct {
	config    Config
	provider  provider.Requester
	validator *validator.Validator
	pending   *pending.Requests

	pendingFeed  event.Feed // *jsonrpc.Request
	resolvedFeed event.Feed // *jsonrpc.Response

	mu        sync.Mutex
	waiters   map[int64]*waiter
	approving map[int64]struct{}
}

// waiter is the Resolve call blocked on a pending request. A waiter that gave
// up while an approval was running is abandoned and receives nil if that
// approval fails.
type waiter struct {
	ch        chan *jsonrpc.Response
	abandoned bool
}

// New builds an authenticator. s may be nil to keep pending requests in
// memory only.
func New(config Config, p provider.Requester, s store.Store) (*Authenticator, error) {
	v, err := validator.New(config.Methods)
	if err != nil {
		return nil, err
	}

	if config.Accounts == "" {
		config.Accounts = defaultAccountsMethod
	}

	return &Authenticator{
		config:    config,
		provider:  p,
		validator: v,
		pending:   pending.New(s, config.Context),
		waiters:   make(map[int64]*waiter),
		approving: make(map[int64]struct{}),
	}, nil
}

// Init restores the requests left pending by a previous run.
func (a *Authenticator) Init(ctx context.Context) error {
	return a.pending.Init(ctx, a.config.Context)
}

func (a *Authenticator) Context() string {
	return a.config.Context
}

// SubscribePending delivers every request that starts waiting for approval.
// The channel must be drained, Resolve blocks until it accepts.
func (a *Authenticator) SubscribePending(ch chan<- *jsonrpc.Request) event.Subscription {
	return a.pendingFeed.Subscribe(ch)
}

// SubscribeResolved delivers the terminal response of every approval gated
// request.
func (a *Authenticator) SubscribeResolved(ch chan<- *jsonrpc.Response) event.Subscription {
	return a.resolvedFeed.Subscribe(ch)
}

func (a *Authenticator) GetAccounts(ctx context.Context) ([]string, error) {
	req, err := jsonrpc.NewRequest(a.config.Accounts, []interface{}{})
	if err != nil {
		return nil, err
	}

	result, err := a.provider.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	var accounts []string
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, err
	}

	return accounts, nil
}

func (a *Authenticator) SupportsMethod(req *jsonrpc.Request) bool {
	if !a.validator.IsSupported(req.Method) {
		return false
	}

	if s, ok := a.provider.(methodSupporter); ok {
		return s.IsSupported(req.Method)
	}

	return true
}

// RequiresApproval fails with jsonrpc.ErrMethodNotSupported for a method that
// has no configuration at all.
func (a *Authenticator) RequiresApproval(req *jsonrpc.Request) (bool, error) {
	schema, err := a.validator.GetSchema(req.Method)
	if err != nil {
		return false, err
	}
	return schema.UserApproval, nil
}

// Methods lists the configured method names in order.
func (a *Authenticator) Methods() []string {
	return a.validator.Methods()
}

func (a *Authenticator) ValidateRequest(req *jsonrpc.Request) (validator.Validation, error) {
	return a.validator.ValidateRequest(req)
}

// Pending lists the requests waiting for approval.
func (a *Authenticator) Pending() []*jsonrpc.Request {
	return a.pending.List()
}

func (a *Authenticator) PendingRequest(id int64) (*jsonrpc.Request, bool) {
	return a.pending.Get(id)
}

func (a *Authenticator) findError(req *jsonrpc.Request) *jsonrpc.Response {
	if !a.SupportsMethod(req) {
		return jsonrpc.FormatError(req.ID, jsonrpc.MethodNotFound)
	}

	res, err := a.ValidateRequest(req)
	if err != nil || !res.Valid {
		logrus.Debugf("request %d %s is invalid: %s", req.ID, req.Method, res.Error)
		return jsonrpc.FormatError(req.ID, jsonrpc.InvalidRequest)
	}

	return nil
}

// Resolve answers req. Protocol errors come back as error envelopes. Methods
// requiring approval are stored as pending and Resolve blocks until the
// request is approved, rejected or expires, or ctx is done. Everything else is
// forwarded to the provider, whose failures are returned unchanged.
func (a *Authenticator) Resolve(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if res := a.findError(req); res != nil {
		return res, nil
	}

	approval, err := a.RequiresApproval(req)
	if err != nil {
		return nil, err
	}

	if !approval {
		return a.forward(ctx, req)
	}

	w, ok := a.wait(req.ID)
	if !ok {
		return jsonrpc.FormatError(req.ID, jsonrpc.DuplicateRequest), nil
	}

	if err := a.pending.Set(ctx, req); err != nil {
		if res, ok := a.giveUp(req.ID, w); ok {
			return res, nil
		}
		return nil, err
	}

	logrus.Infof("request %d %s is waiting for approval", req.ID, req.Method)
	a.pendingFeed.Send(req)

	var expired <-chan time.Time
	if a.config.ApprovalTimeout > 0 {
		timer := time.NewTimer(a.config.ApprovalTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-w.ch:
		return res, nil

	case <-expired:
		if res, ok := a.giveUp(req.ID, w); ok {
			return res, nil
		}

		logrus.Warnf("request %d %s expired", req.ID, req.Method)

		res := jsonrpc.FormatError(req.ID, jsonrpc.RequestExpired)
		a.resolvedFeed.Send(res)
		return res, nil

	case <-ctx.Done():
		if res, ok := a.giveUp(req.ID, w); ok {
			return res, nil
		}
		return nil, ctx.Err()
	}
}

// Approve forwards req to the provider and completes the Resolve call waiting
// on it. Only one approval runs per request: a concurrent Approve gets a
// DuplicateRequest envelope, and so does an Approve for a request that is no
// longer pending. A provider failure is returned and leaves the request
// pending.
func (a *Authenticator) Approve(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if res := a.findError(req); res != nil {
		return res, nil
	}

	if res := a.claim(req.ID); res != nil {
		return res, nil
	}

	res, err := a.forward(ctx, req)
	if err != nil {
		a.release(req.ID)
		return nil, err
	}

	logrus.Infof("request %d %s approved", req.ID, req.Method)
	a.complete(res, true)

	return res, nil
}

// Reject completes the Resolve call waiting on req with a UserRejected error.
// A request whose approval is already running is left alone and the caller
// gets a DuplicateRequest envelope instead.
func (a *Authenticator) Reject(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	res := jsonrpc.FormatError(req.ID, jsonrpc.UserRejected)

	if !a.complete(res, false) {
		logrus.Warnf("request %d %s is being approved, reject ignored", req.ID, req.Method)
		return jsonrpc.FormatErrorMessage(req.ID, jsonrpc.DuplicateRequest, "request is being approved")
	}

	logrus.Infof("request %d %s rejected", req.ID, req.Method)
	return res
}

func (a *Authenticator) forward(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	result, err := a.provider.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	return jsonrpc.FormatResult(req.ID, result)
}

// claim marks id as being approved. It returns the envelope to answer with
// when the request is not pending or another approval holds it.
func (a *Authenticator) claim(id int64) *jsonrpc.Response {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exist := a.approving[id]; exist {
		return jsonrpc.FormatErrorMessage(id, jsonrpc.DuplicateRequest, "request is being approved")
	}

	if _, ok := a.pending.Get(id); !ok {
		return jsonrpc.FormatErrorMessage(id, jsonrpc.DuplicateRequest, "request is not pending")
	}

	a.approving[id] = struct{}{}
	return nil
}

// release drops the claim of a failed approval. The request stays pending
// unless its waiter gave up in the meantime.
func (a *Authenticator) release(id int64) {
	a.mu.Lock()
	delete(a.approving, id)

	w, waiting := a.waiters[id]
	if !waiting || !w.abandoned {
		a.mu.Unlock()
		return
	}

	delete(a.waiters, id)
	a.removePending(id)
	a.mu.Unlock()

	w.ch <- nil
}

// complete delivers the terminal response for res.ID. Only the first call for
// an id reaches the waiter; later calls find nothing and do nothing. Unless
// claimed is set, an id under approval is left untouched and complete returns
// false.
func (a *Authenticator) complete(res *jsonrpc.Response, claimed bool) bool {
	a.mu.Lock()
	if _, approving := a.approving[res.ID]; approving && !claimed {
		a.mu.Unlock()
		return false
	}

	w, waiting := a.waiters[res.ID]
	delete(a.waiters, res.ID)
	delete(a.approving, res.ID)

	// requests restored by Init have no waiter
	_, stored := a.pending.Get(res.ID)
	if stored {
		a.removePending(res.ID)
	}
	a.mu.Unlock()

	if !waiting && !stored {
		return true
	}

	if waiting {
		w.ch <- res
	}
	a.resolvedFeed.Send(res)
	return true
}

func (a *Authenticator) wait(id int64) (*waiter, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exist := a.waiters[id]; exist {
		return nil, false
	}

	w := &waiter{ch: make(chan *jsonrpc.Response, 1)}
	a.waiters[id] = w
	return w, true
}

// giveUp retires w and its pending request. When an approval of id is running
// it waits for that approval instead; ok reports that it delivered a response.
func (a *Authenticator) giveUp(id int64, w *waiter) (*jsonrpc.Response, bool) {
	a.mu.Lock()

	if _, approving := a.approving[id]; approving {
		w.abandoned = true
		a.mu.Unlock()

		res := <-w.ch
		return res, res != nil
	}

	if a.waiters[id] != w {
		// already completed
		a.mu.Unlock()
		return <-w.ch, true
	}

	delete(a.waiters, id)
	a.removePending(id)
	a.mu.Unlock()

	return nil, false
}

func (a *Authenticator) removePending(id int64) {
	if _, ok := a.pending.Get(id); !ok {
		return
	}

	if err := a.pending.Delete(context.Background(), id); err != nil {
		logrus.Errorf("remove pending request %d: %v", id, err)
	}
}
