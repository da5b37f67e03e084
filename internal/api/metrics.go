package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Workspace     WorkspaceMetrics `json:"workspace"`
	Store         *StoreMetrics    `json:"store,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics counts UI sessions and the events dropped for slow ones.
type WSMetrics struct {
	ConnectedClients int   `json:"connected_clients"`
	DroppedFrames    int64 `json:"dropped_frames"`
}

// MQTTMetrics reports the broker link behind remote broadcasts and mqtt blocks.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	Subscriptions int  `json:"subscriptions"`
}

// WorkspaceMetrics summarises the loaded tabs.
type WorkspaceMetrics struct {
	Tabs        int            `json:"tabs"`
	ByState     map[string]int `json:"by_state"`
	Blocks      int            `json:"blocks"`
	Roots       int            `json:"roots"`
	Locks       int            `json:"locks"`
	PollingTabs int            `json:"polling_tabs"`
}

// StoreMetrics reports the SQLite workspace store.
type StoreMetrics struct {
	SchemaVersion     string `json:"schema_version"`
	PendingMigrations int    `json:"pending_migrations"`
	StoredTabs        int    `json:"stored_tabs"`
	Variables         int    `json:"variables"`
	SizeBytes         int64  `json:"size_bytes"`
	OpenConnections   int    `json:"open_connections"`
	Error             string `json:"error,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / (1 << 20),
			NumGC:         mem.NumGC,
		},
		Workspace: s.workspaceMetrics(),
	}
	if s.hub != nil {
		st := s.hub.Stats()
		m.WebSocket = WSMetrics{ConnectedClients: st.Sessions, DroppedFrames: st.DroppedFrames}
	}
	if s.mqtt != nil {
		m.MQTT = MQTTMetrics{Connected: s.mqtt.IsConnected(), Subscriptions: s.mqtt.SubscriptionCount()}
	}
	if s.store != nil {
		m.Store = &StoreMetrics{}
		st, err := s.store.StoreStats(r.Context())
		if err != nil {
			m.Store.Error = err.Error()
		} else {
			*m.Store = StoreMetrics{
				SchemaVersion:     st.SchemaVersion,
				PendingMigrations: st.PendingMigrations,
				StoredTabs:        st.Tabs,
				Variables:         st.Variables,
				SizeBytes:         st.SizeBytes,
				OpenConnections:   st.OpenConnections,
			}
		}
	}

	writeJSON(w, http.StatusOK, m)
}

func (s *Server) workspaceMetrics() WorkspaceMetrics {
	wm := WorkspaceMetrics{ByState: make(map[string]int)}
	for _, tab := range s.engine.Tabs() {
		locks := tab.Locks()
		wm.Tabs++
		wm.ByState[tab.State().String()]++
		wm.Blocks += tab.BlockCount()
		wm.Roots += len(tab.Roots())
		wm.Locks += locks.LockCount()
		if locks.PollingActive() {
			wm.PollingTabs++
		}
	}
	return wm
}
