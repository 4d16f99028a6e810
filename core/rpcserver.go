package core

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/ivanzzeth/ethereum-jsonrpc-gateway/jsonrpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const slowRequestMs = 5000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Server struct {
	chains map[uint64]*Chain
	cache  *responseCache
	health healthCache
	mux    *chi.Mux
}

// NewServer serves chains over these paths:
//  1. POST /http/{chainId}
//  2. GET  /ws/{chainId}
//  3. GET  /health and /metrics
//  4. GET  /pending/{chainId}, POST /pending/{chainId}/{id}/approve|reject
func NewServer(chains map[uint64]*Chain, cacheSize int) *Server {
	h := &Server{
		chains: chains,
		cache:  newResponseCache(cacheSize),
	}

	r := chi.NewRouter()
	r.Use(withCORS)

	r.Get("/health", h.serveHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/http/{chainId}", h.serveHTTP)
	r.Options("/http/{chainId}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/ws/{chainId}", h.serveWSUpgrade)

	r.Route("/pending/{chainId}", func(r chi.Router) {
		r.Get("/", h.servePendingList)
		r.Post("/{id}/approve", h.servePendingApprove)
		r.Post("/{id}/reject", h.servePendingReject)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("protocol Should Be http or ws"))
		Count("bad_request")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Method Should Be POST"))
		Count("bad_request")
	})

	h.mux = r

	return h
}

func (h *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.mux.ServeHTTP(w, req)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, req)
	})
}

func (h *Server) chain(w http.ResponseWriter, req *http.Request) (*Chain, bool) {
	chainId, err := strconv.ParseUint(chi.URLParam(req, "chainId"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid ChainId"))
		Count("bad_request")
		return nil, false
	}

	chain, ok := h.chains[chainId]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Unsupported ChainId"))
		Count("bad_request")
		return nil, false
	}

	return chain, true
}

func (h *Server) serveHTTP(w http.ResponseWriter, req *http.Request) {
	chain, ok := h.chain(w, req)
	if !ok {
		return
	}

	reqBodyBytes, err := ioutil.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	bts, failed := h.handle(req.Context(), chain, reqBodyBytes)

	w.Header().Set("Content-Type", "application/json")
	if failed {
		w.WriteHeader(http.StatusInternalServerError)
	}
	_, _ = w.Write(bts)
}

// handle serves one JSON-RPC request and returns the encoded response. failed
// is set when a backend failure was turned into the error envelope.
func (h *Server) handle(ctx context.Context, chain *Chain, body []byte) (bts []byte, failed bool) {
	startTime := time.Now()

	proxyRequest, errResponse := newRequest(chain.ID, body)
	if errResponse != nil {
		Count("bad_request")
		return encodeResponse(errResponse), false
	}

	data := proxyRequest.data
	logger := proxyRequest.logger

	Count(data.Method)

	defer func() {
		costInMs := time.Since(startTime).Milliseconds()
		if costInMs > slowRequestMs {
			logger.Infof("slow request, method: %s, cost: %d", data.Method, costInMs)
		}
		Time(data.Method, float64(costInMs))
	}()

	cacheable := chain.isCacheable(proxyRequest)
	if cacheable {
		if result, ok := h.cache.get(chain.ID, data); ok {
			Count("hit_cache")
			Count("hit_cache_" + data.Method)
			logger.Infof("Req for chain %d %s 200 hits cache", chain.ID, data.Method)

			res, _ := jsonrpc.FormatResult(data.ID, result)
			return encodeResponse(res), false
		}
		Count("miss_cache")
	}

	res, err := chain.Authenticator.Resolve(ctx, data)
	if err != nil {
		logger.Errorf("Req for chain %d %s(%s) failed: %v", chain.ID, data.Method, string(data.Params), err)
		return encodeResponse(errorResponse(data.ID, err)), true
	}

	if res.IsError() {
		logger.Infof("Req for chain %d %s answered error %d %s", chain.ID, data.Method, res.Error.Code, res.Error.Message)
	} else {
		logger.Infof("Req for chain %d %s 200", chain.ID, data.Method)

		if cacheable {
			h.cache.add(chain.ID, data, res.Result)
		}
	}

	return encodeResponse(res), false
}

func errorResponse(id int64, err error) *jsonrpc.Response {
	return &jsonrpc.Response{ID: id, JSONRPC: jsonrpc.Version, Error: jsonrpc.ToError(err)}
}

func encodeResponse(res *jsonrpc.Response) []byte {
	bts, err := json.Marshal(res)
	if err != nil {
		bts, _ = json.Marshal(jsonrpc.FormatError(res.ID, jsonrpc.InternalError))
	}
	return bts
}

func (h *Server) serveWSUpgrade(w http.ResponseWriter, req *http.Request) {
	chain, ok := h.chain(w, req)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		logrus.Error(err)
		return
	}

	_ = h.ServerWS(req.Context(), chain, conn)
}

// ServerWS answers every message of conn concurrently, so a request waiting
// for approval does not hold up the others. Closing the connection cancels
// the requests still in flight.
func (h *Server) ServerWS(ctx context.Context, chain *Chain, conn *websocket.Conn) error {
	defer conn.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeLock sync.Mutex

	for {
		messageType, reqBodyBytes, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			bts, _ := h.handle(ctx, chain, reqBodyBytes)

			writeLock.Lock()
			defer writeLock.Unlock()

			if err := conn.WriteMessage(messageType, bts); err != nil {
				logrus.Debugf("ws write failed: %v", err)
			}
		}()
	}
}

func (h *Server) serveHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	infoBts, _ := json.Marshal(h.health.get(h.chains))
	_, _ = w.Write(infoBts)
}

func (h *Server) servePendingList(w http.ResponseWriter, req *http.Request) {
	chain, ok := h.chain(w, req)
	if !ok {
		return
	}

	list := chain.Authenticator.Pending()
	if list == nil {
		list = []*jsonrpc.Request{}
	}

	w.Header().Set("Content-Type", "application/json")
	bts, _ := json.Marshal(list)
	_, _ = w.Write(bts)
}

func (h *Server) pendingRequest(w http.ResponseWriter, req *http.Request) (*Chain, *jsonrpc.Request, bool) {
	chain, ok := h.chain(w, req)
	if !ok {
		return nil, nil, false
	}

	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Invalid Request Id"))
		return nil, nil, false
	}

	pending, ok := chain.Authenticator.PendingRequest(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("Request Not Pending"))
		return nil, nil, false
	}

	return chain, pending, true
}

func (h *Server) servePendingApprove(w http.ResponseWriter, req *http.Request) {
	chain, pending, ok := h.pendingRequest(w, req)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")

	res, err := chain.Authenticator.Approve(req.Context(), pending)
	if err != nil {
		logrus.Errorf("approve request %d on chain %d failed: %v", pending.ID, chain.ID, err)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(encodeResponse(errorResponse(pending.ID, err)))
		return
	}

	_, _ = w.Write(encodeResponse(res))
}

func (h *Server) servePendingReject(w http.ResponseWriter, req *http.Request) {
	chain, pending, ok := h.pendingRequest(w, req)
	if !ok {
		return
	}

	res := chain.Authenticator.Reject(req.Context(), pending)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(encodeResponse(res))
}
