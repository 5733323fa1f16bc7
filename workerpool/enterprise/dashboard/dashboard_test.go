package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetricsProvider struct {
	metrics interface{}
}

func (m *mockMetricsProvider) GetMetrics() interface{} { return m.metrics }

type testMetrics struct {
	LiveThreads    int `json:"LiveThreads"`
	CompletedTasks int `json:"CompletedTasks"`
}

func TestHandleMetricsReturnsProviderSnapshot(t *testing.T) {
	provider := &mockMetricsProvider{metrics: testMetrics{LiveThreads: 4, CompletedTasks: 100}}
	d := NewDashboard(provider, SecurityConfig{})

	req := httptest.NewRequest("GET", "/api/metrics", nil)
	w := httptest.NewRecorder()
	d.handleMetrics(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got testMetrics
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, 4, got.LiveThreads)
	assert.Equal(t, 100, got.CompletedTasks)
}

func TestHandleMetricsWithoutProviderReportsError(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{})

	req := httptest.NewRequest("GET", "/api/metrics", nil)
	w := httptest.NewRecorder()
	d.handleMetrics(w, req)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "no metrics provider", resp["error"])
}

func TestServeDashboardRendersHTML(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{})

	req := httptest.NewRequest("GET", "/dashboard", nil)
	w := httptest.NewRecorder()
	d.serveDashboard(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
	body := w.Body.String()
	for _, want := range []string{"Worker Pool Dashboard", "Live Threads", "Queued Tasks", "Completed Tasks", "Rejected Tasks"} {
		assert.Contains(t, body, want)
	}
}

func TestRouterMetricsRouteRequiresBearerTokenWhenAuthEnabled(t *testing.T) {
	secret := []byte("test-secret")
	d := NewDashboard(&mockMetricsProvider{metrics: testMetrics{}}, SecurityConfig{AuthEnabled: true, AuthSecret: secret})
	srv := httptest.NewServer(d.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	req, err := http.NewRequest("GET", srv.URL+"/api/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signed)

	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestRouterDashboardRouteNeverRequiresAuth(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{AuthEnabled: true, AuthSecret: []byte("s")})
	srv := httptest.NewServer(d.router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dashboard")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendUpdateNeverBlocksWithoutClients(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{})
	done := make(chan struct{})
	go func() {
		d.SendUpdate("test", map[string]string{"key": "value"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SendUpdate should never block, even with a full buffer and no readers")
	}
}

func TestBroadcastLoopDeliversToRegisteredClient(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{})
	clientChan := make(chan DashboardUpdate, 10)
	d.clients.Store("client1", clientChan)

	d.wg.Add(1)
	go d.broadcastLoop()
	defer func() {
		close(d.stopChan)
		d.wg.Wait()
	}()

	update := DashboardUpdate{Timestamp: time.Now(), Type: "test", Data: "test data"}
	select {
	case d.broadcast <- update:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("failed to enqueue broadcast")
	}

	select {
	case received := <-clientChan:
		assert.Equal(t, "test", received.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client never received the broadcast update")
	}
}

func TestMetricsLoopPublishesStatsEverySecond(t *testing.T) {
	provider := &mockMetricsProvider{metrics: testMetrics{LiveThreads: 4}}
	d := NewDashboard(provider, SecurityConfig{})

	d.wg.Add(1)
	go d.metricsLoop()
	defer func() {
		close(d.stopChan)
		d.wg.Wait()
	}()

	select {
	case update := <-d.broadcast:
		assert.Equal(t, "stats", update.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one stats update from metricsLoop")
	}
}

func TestStopDoesNotHang(t *testing.T) {
	d := NewDashboard(nil, SecurityConfig{})
	d.wg.Add(2)
	go d.broadcastLoop()
	go d.metricsLoop()

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop timed out")
	}
}

func TestDashboardUpdateMarshalsToJSON(t *testing.T) {
	update := DashboardUpdate{Timestamp: time.Now(), Type: "stats", Data: testMetrics{LiveThreads: 4}}
	data, err := json.Marshal(update)
	require.NoError(t, err)

	var decoded DashboardUpdate
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "stats", decoded.Type)
}
