package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

var (
	TimeoutError      = errors.New("timeout error")
	NotConnectedError = errors.New("websocket provider is not connected")
)

const wsRequestTimeout = 30 * time.Second

type wsProxyRequest struct {
	data     *jsonrpc.Request
	resBytes chan []byte
}

// WSProvider multiplexes requests over one websocket connection. Outgoing ids
// are replaced by proxy ids so concurrent callers reusing the same id do not
// collide; the caller's id is restored on the way back.
type WSProvider struct {
	Emitter

	url          string
	requestQueue chan *wsProxyRequest
	nextID       int64     // proxy request id
	requests     *sync.Map // proxy request id => proxy request

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	stop context.CancelFunc
}

var _ Provider = &WSProvider{}

func NewWSProvider(url string) *WSProvider {
	return &WSProvider{
		url:          url,
		requestQueue: make(chan *wsProxyRequest),
		nextID:       time.Now().Unix(),
		requests:     &sync.Map{},
	}
}

// Connect dials once. Reconnection is left to the caller.
func (p *WSProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.url, err)
	}

	connContext, stop := context.WithCancel(context.Background())
	p.conn = conn
	p.done = make(chan struct{})
	p.stop = stop

	logrus.Infof("ws provider %s connected", p.url)

	go p.runConn(connContext, conn, p.done)
	p.Emit(EventConnect, nil)

	return nil
}

func (p *WSProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.mu.Unlock()

	if stop == nil {
		return nil
	}

	stop()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *WSProvider) Request(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	logrus.Debugf("%v handled by %v", req.Method, p.url)

	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	if done == nil {
		return nil, NotConnectedError
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wsRequestTimeout)
		defer cancel()
	}

	proxied := *req
	proxied.ID = atomic.AddInt64(&p.nextID, 1)

	proxyRequest := &wsProxyRequest{
		data:     &proxied,
		resBytes: make(chan []byte, 1),
	}

	p.requests.Store(proxied.ID, proxyRequest)
	defer p.requests.Delete(proxied.ID)

	select {
	case p.requestQueue <- proxyRequest:
	case <-done:
		return nil, NotConnectedError
	case <-ctx.Done():
		return nil, TimeoutError
	}

	select {
	case bts := <-proxyRequest.resBytes:
		var response jsonrpc.Response
		if err := json.Unmarshal(bts, &response); err != nil {
			return nil, err
		}
		if response.Error != nil {
			return nil, response.Error
		}
		return response.Result, nil
	case <-done:
		return nil, NotConnectedError
	case <-ctx.Done():
		return nil, TimeoutError
	}
}

func (p *WSProvider) runConn(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	connContext, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(2)

	// request loop
	go func() {
		logrus.Debugf("conn request loop start")
		defer logrus.Debugf("conn request loop stop")
		defer wg.Done()
		defer cancel()

		for {
			select {
			case <-connContext.Done():
				return
			case proxyRequest := <-p.requestQueue:
				bts, _ := json.Marshal(proxyRequest.data)

				if err := conn.WriteMessage(websocket.TextMessage, bts); err != nil {
					logrus.Errorf("write request to provider failed %v", err)
					p.Emit(EventError, err)
					return
				}
			}
		}
	}()

	// response loop
	go func() {
		logrus.Debugf("conn response loop start")
		defer logrus.Debugf("conn response loop stop")
		defer wg.Done()
		defer cancel()

		for {
			t, msg, err := conn.ReadMessage()
			if err != nil {
				if connContext.Err() == nil {
					logrus.Errorf("read response from provider failed %v", err)
					p.Emit(EventError, err)
				}
				return
			}

			if t != websocket.TextMessage {
				logrus.Infof("not a text message %v", msg)
				continue
			}

			p.onPayload(msg)
		}
	}()

	<-connContext.Done()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	conn.Close()
	wg.Wait()

	p.mu.Lock()
	p.conn = nil
	p.done = nil
	p.stop = nil
	p.mu.Unlock()

	close(done)
	p.Emit(EventDisconnect, nil)
}

func (p *WSProvider) onPayload(msg []byte) {
	id := gjson.GetBytes(msg, "id")
	method := gjson.GetBytes(msg, "method")

	if method.Exists() || !id.Exists() {
		var data interface{}
		_ = json.Unmarshal([]byte(gjson.GetBytes(msg, "params").Raw), &data)
		p.Emit(EventMessage, Message{Type: method.String(), Data: data})
		return
	}

	if r, exist := p.requests.Load(id.Int()); exist {
		if req, ok := r.(*wsProxyRequest); ok {
			select {
			case req.resBytes <- msg:
			default:
			}
		}
	}
}

func (p *WSProvider) URL() string {
	return p.url
}
