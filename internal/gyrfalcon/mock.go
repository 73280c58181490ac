package gyrfalcon

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockAPIKey is the API key accepted by the mock server. Any other key
// triggers an authentication failure response.
const MockAPIKey = "test-api-key"

// MockServer mocks the global API, the channel gateway and the signed URL
// endpoints of the object store behind it, so that the whole submission
// pipeline can run against a single scripted server.
type MockServer struct {
	t testing.TB

	// URL is the base URL of the mock, valid for both the global API and the
	// gateway (ResolveGateway returns it as the gateway endpoint).
	URL string

	// RunningPolls is the number of in-progress statuses reported after the
	// experiment config has been uploaded, before the terminal status.
	RunningPolls int
	// StatusFlakes is the number of 500 responses served from the status
	// endpoint before any real status, to simulate transient backend trouble.
	StatusFlakes int
	// FailureReason, if set, makes the experiment terminate with a failure
	// status carrying this reason instead of succeeding.
	FailureReason string
	// ResultData is the (already encrypted) result blob served from the
	// signed result URL once the experiment succeeds.
	ResultData []byte
	// URLTTL is the validity period stamped on issued signed URLs.
	URLTTL time.Duration

	mux *http.ServeMux

	mu            sync.Mutex
	uploads       map[string][]byte
	statusCalls   map[string]int
	created       []string
	resultPubKeys map[string]string
}

// MockGyrfalconServer starts a mock Atlas Explorer service for the lifetime
// of the test. The returned server's exported fields may be adjusted before
// the client under test first talks to it.
func MockGyrfalconServer(t testing.TB) *MockServer {
	m := &MockServer{
		t:             t,
		RunningPolls:  2,
		URLTTL:        15 * time.Minute,
		uploads:       map[string][]byte{},
		statusCalls:   map[string]int{},
		resultPubKeys: map[string]string{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /validateapikey", m.requireAPIKey(m.handleValidateAPIKey))
	mux.HandleFunc("GET /channellist", m.requireAPIKey(m.handleChannelList))
	mux.HandleFunc("GET /gwbychannelregion", m.requireAPIKey(m.handleGateway))
	mux.HandleFunc("POST /createsignedurls", m.requireAPIKey(m.handleCreateSignedURLs))
	mux.HandleFunc("PUT /put/{expID}/{artifact}", m.handlePut)
	mux.HandleFunc("GET /status/{expID}", m.handleStatus)
	mux.HandleFunc("GET /get/{expID}/result", m.handleResult)
	m.mux = mux

	server := httptest.NewServer(m)
	t.Cleanup(server.Close)
	m.URL = server.URL

	return m
}

func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.t.Log(r.Method, r.URL.Path)
	m.mux.ServeHTTP(w, r)
}

// Upload returns the bytes PUT for the given experiment artifact ("config"
// or "workload"), or nil if nothing was uploaded.
func (m *MockServer) Upload(expID, artifact string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads[expID+"/"+artifact]
}

// CreatedExperiments returns the experiment IDs seen by createsignedurls, in
// order.
func (m *MockServer) CreatedExperiments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.created...)
}

// ResultPublicKey returns the PEM public key submitted with the experiment.
func (m *MockServer) ResultPublicKey(expID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resultPubKeys[expID]
}

// StatusCalls returns how many status polls were served for the experiment.
func (m *MockServer) StatusCalls(expID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls[expID]
}

func (m *MockServer) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != MockAPIKey {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (m *MockServer) handleValidateAPIKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"valid": true})
}

func (m *MockServer) handleChannelList(w http.ResponseWriter, r *http.Request) {
	// One channel with array-encoded regions, one with the legacy
	// string-encoded form.
	writeJSON(w, map[string]any{
		"channels": []map[string]any{
			{"name": "release", "regions": []string{"us-west-2", "us-east-1"}},
			{"name": "development", "regions": `["us-west-2"]`},
		},
	})
}

func (m *MockServer) handleGateway(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("channel") == "" || r.Header.Get("region") == "" {
		http.Error(w, "channel and region are required", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"endpoint": m.URL})
}

func (m *MockServer) handleCreateSignedURLs(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("action") != "experiment" {
		http.Error(w, "unsupported action", http.StatusBadRequest)
		return
	}
	expID := r.Header.Get("exp-uuid")
	if expID == "" {
		http.Error(w, "exp-uuid header is required", http.StatusBadRequest)
		return
	}

	body := struct {
		ResultPublicKey string `json:"result_public_key"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.created = append(m.created, expID)
	m.resultPubKeys[expID] = body.ResultPublicKey
	m.mu.Unlock()

	expiry := time.Now().Add(m.URLTTL).UTC()
	writeJSON(w, map[string]any{
		"cfgurl":     fmt.Sprintf("%s/put/%s/config?X-Amz-Signature=mock", m.URL, expID),
		"elfurl":     fmt.Sprintf("%s/put/%s/workload?X-Amz-Signature=mock", m.URL, expID),
		"statusget":  fmt.Sprintf("%s/status/%s?X-Amz-Signature=mock", m.URL, expID),
		"resulturl":  fmt.Sprintf("%s/get/%s/result?X-Amz-Signature=mock", m.URL, expID),
		"expires_at": expiry.Format(time.RFC3339),
	})
}

func (m *MockServer) handlePut(w http.ResponseWriter, r *http.Request) {
	expID := r.PathValue("expID")
	artifact := r.PathValue("artifact")

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusInternalServerError)
		return
	}

	m.mu.Lock()
	m.uploads[expID+"/"+artifact] = data
	m.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (m *MockServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	expID := r.PathValue("expID")

	m.mu.Lock()
	m.statusCalls[expID]++
	calls := m.statusCalls[expID]
	_, configUploaded := m.uploads[expID+"/config"]
	m.mu.Unlock()

	if calls <= m.StatusFlakes {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	calls -= m.StatusFlakes

	// Processing only starts once the experiment config has been uploaded.
	if !configUploaded || calls <= m.RunningPolls {
		writeJSON(w, map[string]any{"code": 100})
		return
	}

	if m.FailureReason != "" {
		writeJSON(w, map[string]any{"code": 500, "message": m.FailureReason})
		return
	}

	writeJSON(w, map[string]any{
		"code": 200,
		"metadata": map[string]any{
			"reports": []map[string]string{
				{"name": "summary", "url": fmt.Sprintf("%s/get/%s/result", m.URL, expID), "type": "stream"},
			},
		},
	})
}

func (m *MockServer) handleResult(w http.ResponseWriter, r *http.Request) {
	if m.ResultData == nil {
		http.Error(w, "no result configured", http.StatusNotFound)
		return
	}
	_, _ = w.Write(m.ResultData)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
