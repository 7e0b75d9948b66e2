package toolstore

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"alex/internal/logging"
)

// callbackServer is an ephemeral loopback HTTP server that lets a running
// driver subprocess recurse back into the Tool Store: the driver's
// executeTool helper POSTs {name, params, depth} here and gets back
// {success, result, error}. This is the cross-process channel composite
// tools use in place of the Python reference's in-process closure
// (CodeToolManager.get_tool_executor), since our sandbox runs each tool
// as its own compiled subprocess (§4.2/§4.5).
type callbackServer struct {
	store    *Store
	listener net.Listener
	server   *http.Server
	once     sync.Once
	addr     string
}

type callbackRequest struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
	Depth  int            `json:"depth"`
}

type callbackResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

func newCallbackServer(store *Store, logger logging.Logger) (*callbackServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	cs := &callbackServer{store: store, listener: ln, addr: "http://" + ln.Addr().String() + "/invoke"}
	mux := http.NewServeMux()
	mux.HandleFunc("/invoke", cs.handle)
	cs.server = &http.Server{Handler: mux}
	go func() {
		if err := cs.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Warn("toolstore callback server stopped: %v", err)
		}
	}()
	return cs, nil
}

func (cs *callbackServer) URL() string { return cs.addr }

func (cs *callbackServer) Close() error {
	var err error
	cs.once.Do(func() { err = cs.server.Close() })
	return err
}

func (cs *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeCallbackResponse(w, callbackResponse{Success: false, Error: "invalid request: " + decodeErr.Error()})
		return
	}

	childDepth := req.Depth + 1
	if childDepth > MaxCompositeDepth {
		writeCallbackResponse(w, callbackResponse{Success: false, Error: "composite call depth exceeded"})
		return
	}

	ctx := withDepth(r.Context(), childDepth)
	rec, err := cs.store.Execute(ctx, req.Name, req.Params)
	if err != nil {
		writeCallbackResponse(w, callbackResponse{Success: false, Error: err.Error()})
		return
	}
	if !rec.Success {
		writeCallbackResponse(w, callbackResponse{Success: false, Error: rec.Error})
		return
	}
	writeCallbackResponse(w, callbackResponse{Success: true, Result: rec.Result})
}

func writeCallbackResponse(w http.ResponseWriter, resp callbackResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
