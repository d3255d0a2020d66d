package chain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"eth-spike-alerts/internal/retry"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

const sampleBlockJSON = `{
	"number": "0x10",
	"hash": "0xabc",
	"transactions": [
		{"hash": "0x0000000000000000000000000000000000000000000000000000000000000001", "value": "0x8ac7230489e80000", "type": "0x2"},
		{"hash": "0x0000000000000000000000000000000000000000000000000000000000000002", "value": "0x0", "type": "0x7e"}
	]
}`

// fakeRPC serves a minimal JSON-RPC endpoint keyed by method name.
type fakeRPC struct {
	mu      sync.Mutex
	results map[string]string
	calls   map[string]int
}

func newFakeRPC(results map[string]string) *fakeRPC {
	return &fakeRPC{results: results, calls: make(map[string]int)}
}

func (f *fakeRPC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.calls[req.Method]++
	result, ok := f.results[req.Method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
		return
	}
	_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
}

func newRPCServer(t *testing.T, results map[string]string) (*httptest.Server, *fakeRPC) {
	t.Helper()
	fake := newFakeRPC(results)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return srv, fake
}

func fastRetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}
