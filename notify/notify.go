package notify

import (
	"context"

	"github.com/ethereum/go-ethereum/event"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/sirupsen/logrus"
)

// Notifier tells someone that a request is waiting for approval.
type Notifier interface {
	Notify(ctx context.Context, namespace string, req *jsonrpc.Request) error
}

// Source is satisfied by *auth.Authenticator.
type Source interface {
	Context() string
	SubscribePending(ch chan<- *jsonrpc.Request) event.Subscription
}

// Event is the payload published for one pending request.
type Event struct {
	Context string           `json:"context"`
	Request *jsonrpc.Request `json:"request"`
}

// Run forwards every pending request of src to n until ctx is done. Requests
// are queued while n is busy, so a slow notifier never holds up the feed.
func Run(ctx context.Context, src Source, n Notifier) error {
	ch := make(chan *jsonrpc.Request, 16)
	sub := src.SubscribePending(ch)
	defer sub.Unsubscribe()

	out := make(chan *jsonrpc.Request)
	defer close(out)
	go publish(ctx, src.Context(), n, out)

	var queue []*jsonrpc.Request
	for {
		var next chan<- *jsonrpc.Request
		var head *jsonrpc.Request
		if len(queue) > 0 {
			next, head = out, queue[0]
		}

		select {
		case req := <-ch:
			queue = append(queue, req)
		case next <- head:
			queue[0] = nil
			queue = queue[1:]
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			if len(queue) > 0 {
				logrus.Warnf("%d pending requests were not notified", len(queue))
			}
			return ctx.Err()
		}
	}
}

func publish(ctx context.Context, namespace string, n Notifier, requests <-chan *jsonrpc.Request) {
	for req := range requests {
		if err := n.Notify(ctx, namespace, req); err != nil {
			logrus.Errorf("notify pending request %d failed: %v", req.ID, err)
		}
	}
}

type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n *LogNotifier) Notify(ctx context.Context, namespace string, req *jsonrpc.Request) error {
	logger := n.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	logger.WithFields(logrus.Fields{
		"context": namespace,
		"id":      req.ID,
		"method":  req.Method,
	}).Info("request waiting for approval")

	return nil
}
