package form

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mahgate/internal/cache"
	"mahgate/internal/gateway"
	"mahgate/internal/logging"
	"mahgate/internal/origin"
)

func postForm(t *testing.T, h http.Handler, req Request) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	httpReq := httptest.NewRequest(http.MethodPost, "/api/request", strings.NewReader(string(body)))
	httpReq.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httpReq)
	return rec
}

func decodeSubmitResponse(t *testing.T, rec *httptest.ResponseRecorder) submitResponse {
	t.Helper()
	var resp submitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not valid JSON: %v\n%s", err, rec.Body.String())
	}
	return resp
}

func TestHandlerDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EndpointResponse{
			Success:     true,
			Message:     "your request was sent successfully",
			OrderNumber: "MAH-20250601090000123",
		})
	}))
	defer srv.Close()

	s, q := newTestSubmitter(t, srv.URL)
	rec := postForm(t, &Handler{Submitter: s}, validRequest())

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	resp := decodeSubmitResponse(t, rec)
	if !resp.Success || resp.OrderNumber != "MAH-20250601090000123" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Queued {
		t.Error("direct delivery flagged as queued")
	}
	n, _ := q.Len()
	if n != 0 {
		t.Errorf("queue holds %d records after direct delivery", n)
	}
}

func TestHandlerQueuesWhileEndpointDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	s, q := newTestSubmitter(t, srv.URL)
	rec := postForm(t, &Handler{Submitter: s}, validRequest())

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202\n%s", rec.Code, rec.Body.String())
	}
	resp := decodeSubmitResponse(t, rec)
	if !resp.Success || !resp.Queued {
		t.Errorf("response = %+v, want success+queued", resp)
	}
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 1 {
		t.Errorf("queue holds %d records, want 1", n)
	}
	if !s.Sync.Registered() {
		t.Error("sync tag not registered")
	}
}

func TestHandlerRelaysEndpointRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(EndpointResponse{Success: false, Message: "missing or invalid field: email"})
	}))
	defer srv.Close()

	s, q := newTestSubmitter(t, srv.URL)
	rec := postForm(t, &Handler{Submitter: s}, validRequest())

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want the endpoint's 400 relayed", rec.Code)
	}
	resp := decodeSubmitResponse(t, rec)
	if resp.Success || resp.Message != "missing or invalid field: email" {
		t.Errorf("response = %+v", resp)
	}
	n, _ := q.Len()
	if n != 0 {
		t.Error("rejected request was queued")
	}
}

func TestHandlerRejectsInvalidLocally(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	s, q := newTestSubmitter(t, srv.URL)
	rec := postForm(t, &Handler{Submitter: s}, Request{FullName: "No Contact Info"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if resp := decodeSubmitResponse(t, rec); len(resp.Fields) == 0 {
		t.Error("response carries no field errors")
	}
	if called {
		t.Error("endpoint was contacted for a locally invalid request")
	}
	n, _ := q.Len()
	if n != 0 {
		t.Error("invalid request was queued")
	}
}

func TestHandlerRejectsNonPost(t *testing.T) {
	s, _ := newTestSubmitter(t, "http://127.0.0.1:0")
	req := httptest.NewRequest(http.MethodGet, "/api/request", nil)
	rec := httptest.NewRecorder()
	(&Handler{Submitter: s}).ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

// TestGatewayQueuesFormsWhileOffline assembles the gateway the way the
// binary does: engine on "/", form handler on the submit path. A form post
// with the whole backend down must land in the queue, not die as a 502.
func TestGatewayQueuesFormsWhileOffline(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	down.Close()

	store, err := cache.Open(t.TempDir(), "v1")
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	pool, err := origin.NewPool([]string{down.URL}, nil)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	engine := gateway.NewEngine(
		gateway.NewDirector([]gateway.Route{{Prefix: "/api/", Bypass: true}}),
		store, pool, http.DefaultTransport, logging.NewNop(),
	)

	s, q := newTestSubmitter(t, down.URL+"/api/request")

	mux := http.NewServeMux()
	mux.Handle("/", engine)
	mux.Handle("/api/request", &Handler{Submitter: s})

	rec := postForm(t, mux, validRequest())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d (X-Mahgate=%q), want 202", rec.Code, rec.Header().Get("X-Mahgate"))
	}

	records, err := q.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("queue holds %d records, want 1", len(records))
	}
	var stored Request
	if err := json.Unmarshal(records[0].Payload, &stored); err != nil {
		t.Fatalf("stored payload: %v", err)
	}
	if stored.FullName != "Ahmed Hassan" {
		t.Errorf("stored FullName = %q", stored.FullName)
	}
	if !s.Sync.Registered() {
		t.Error("sync tag not registered after the fallback")
	}
}
