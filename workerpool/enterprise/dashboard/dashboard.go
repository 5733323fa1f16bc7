// Package dashboard serves a live metrics view of a Pool: a JSON
// snapshot endpoint, a websocket feed of periodic updates, and a
// minimal HTML page that renders them.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// MetricsProvider is anything a Dashboard can poll for a point-in-time
// snapshot to broadcast. *workerpool.Pool implements it via Stats.
type MetricsProvider interface {
	GetMetrics() interface{}
}

// SecurityConfig mirrors the subset of workerpool.SecurityConfig the
// dashboard needs to gate its routes behind JWT bearer auth, without
// the dashboard package importing workerpool (which would be a cycle).
type SecurityConfig struct {
	AuthEnabled bool
	AuthSecret  []byte
}

type DashboardUpdate struct {
	Timestamp time.Time   `json:"timestamp"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
}

// Dashboard broadcasts DashboardUpdate values to every connected
// websocket client, polling MetricsProvider once a second.
type Dashboard struct {
	clients   sync.Map // map[*websocket.Conn]chan DashboardUpdate
	broadcast chan DashboardUpdate
	stopChan  chan struct{}
	wg        sync.WaitGroup

	metricsProvider MetricsProvider
	security        SecurityConfig
	upgrader        websocket.Upgrader
	server          *http.Server
}

func NewDashboard(provider MetricsProvider, security SecurityConfig) *Dashboard {
	return &Dashboard{
		broadcast:       make(chan DashboardUpdate, 100),
		stopChan:        make(chan struct{}),
		metricsProvider: provider,
		security:        security,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (d *Dashboard) router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
	}))

	r.Group(func(r chi.Router) {
		if d.security.AuthEnabled {
			r.Use(d.jwtAuth)
		}
		r.Get("/api/metrics", d.handleMetrics)
		r.Get("/api/ws", d.handleWebSocket)
	})
	r.Get("/dashboard", d.serveDashboard)
	return r
}

// jwtAuth rejects requests without a valid Bearer token signed with
// security.AuthSecret. It never runs when Config.Security.AuthEnabled
// is false.
func (d *Dashboard) jwtAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		tokenStr := authHeader[len(prefix):]

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return d.security.AuthSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving addr until Stop is called, at which point it
// returns nil; any other server error is returned as is.
func (d *Dashboard) Start(addr string) error {
	d.wg.Add(1)
	go d.broadcastLoop()
	d.wg.Add(1)
	go d.metricsLoop()

	d.server = &http.Server{Addr: addr, Handler: d.router()}
	err := d.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (d *Dashboard) Stop() {
	close(d.stopChan)
	if d.server != nil {
		d.server.Close()
	}
	d.wg.Wait()
}

func (d *Dashboard) broadcastLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case update := <-d.broadcast:
			d.clients.Range(func(key, value interface{}) bool {
				ch := value.(chan DashboardUpdate)
				select {
				case ch <- update:
				default:
				}
				return true
			})
		}
	}
}

func (d *Dashboard) metricsLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			if d.metricsProvider == nil {
				continue
			}
			d.broadcast <- DashboardUpdate{
				Timestamp: time.Now(),
				Type:      "stats",
				Data:      d.metricsProvider.GetMetrics(),
			}
		}
	}
}

func (d *Dashboard) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if d.metricsProvider == nil {
		json.NewEncoder(w).Encode(map[string]string{"error": "no metrics provider"})
		return
	}
	json.NewEncoder(w).Encode(d.metricsProvider.GetMetrics())
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	updateChan := make(chan DashboardUpdate, 10)
	d.clients.Store(conn, updateChan)
	defer func() {
		d.clients.Delete(conn)
		close(updateChan)
		conn.Close()
	}()

	for update := range updateChan {
		if err := conn.WriteJSON(update); err != nil {
			return
		}
	}
}

func (d *Dashboard) serveDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(dashboardHTML))
}

// SendUpdate broadcasts a custom, non-"stats" update (e.g. an alert
// fired by AlertManager) to every connected client.
func (d *Dashboard) SendUpdate(updateType string, data interface{}) {
	update := DashboardUpdate{Timestamp: time.Now(), Type: updateType, Data: data}
	select {
	case d.broadcast <- update:
	default:
	}
}

const dashboardHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Worker Pool Dashboard</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; background: #f5f5f5; }
        .container { max-width: 1200px; margin: 0 auto; }
        .metric-box { background: white; padding: 20px; margin: 10px 0; border-radius: 5px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .metric-title { font-size: 14px; color: #666; }
        .metric-value { font-size: 32px; font-weight: bold; color: #333; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(250px, 1fr)); gap: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Worker Pool Dashboard</h1>
        <div class="grid">
            <div class="metric-box"><div class="metric-title">Live Threads</div><div class="metric-value" id="live-threads">0</div></div>
            <div class="metric-box"><div class="metric-title">Queued Tasks</div><div class="metric-value" id="queued-tasks">0</div></div>
            <div class="metric-box"><div class="metric-title">Completed Tasks</div><div class="metric-value" id="completed-tasks">0</div></div>
            <div class="metric-box"><div class="metric-title">Rejected Tasks</div><div class="metric-value" id="rejected-tasks">0</div></div>
        </div>
        <div class="metric-box"><h3>Real-time Metrics</h3><pre id="metrics"></pre></div>
    </div>
    <script>
        const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/api/ws');
        ws.onmessage = function(event) {
            const update = JSON.parse(event.data);
            if (update.type === 'stats') {
                document.getElementById('metrics').textContent = JSON.stringify(update.data, null, 2);
                const d = update.data;
                if (d.LiveThreads !== undefined) document.getElementById('live-threads').textContent = d.LiveThreads;
                if (d.QueuedTasks !== undefined) document.getElementById('queued-tasks').textContent = d.QueuedTasks;
                if (d.CompletedTasks !== undefined) document.getElementById('completed-tasks').textContent = d.CompletedTasks;
                if (d.RejectedTasks !== undefined) document.getElementById('rejected-tasks').textContent = d.RejectedTasks;
            }
        };
    </script>
</body>
</html>
`
