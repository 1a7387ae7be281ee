package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/monitoring"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Watchers are read-only dashboards; accept any origin
		return true
	},
}

// SnapshotFunc returns the current pipeline snapshot
type SnapshotFunc func() models.PipelineSnapshot

// HandleWebSocket streams log lines and snapshots to a watcher. The client
// must first send a register message; it then receives a registered reply
// carrying its id and the current snapshot.
func HandleWebSocket(
	reg *registry.Registry,
	logStore *logging.LogStore,
	metrics *monitoring.Metrics,
	snapshot SnapshotFunc,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logStore.LogAndStore("error", "WebSocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		// Wait for registration message
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			logStore.LogAndStore("error", "Failed to read registration: %v", err)
			return
		}
		if msg.Type != models.MessageRegister {
			logStore.LogAndStore("error", "Expected registration message, got: %s", msg.Type)
			return
		}

		watcher := reg.Register(msg.Name)
		defer reg.Unregister(watcher.ID)
		if metrics != nil {
			metrics.WSConnections.Inc()
			defer metrics.WSConnections.Dec()
		}
		logStore.LogAndStore("info", "Watcher registered: %s (%s)", watcher.ID, watcher.Name)

		snap := snapshot()
		response := models.Message{
			Type:     models.MessageRegistered,
			ID:       watcher.ID,
			Status:   "ok",
			Snapshot: &snap,
		}
		if err := send(conn, metrics, response); err != nil {
			logStore.LogAndStore("error", "Failed to send registration confirmation: %v", err)
			return
		}

		// Watchers never send anything after registering; the read loop
		// only notices when the connection goes away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				logStore.LogAndStore("info", "Watcher disconnected: %s", watcher.ID)
				return
			case out, ok := <-watcher.Send:
				if !ok {
					return
				}
				if err := send(conn, metrics, out); err != nil {
					logStore.LogAndStore("error", "Error writing to watcher %s: %v", watcher.ID, err)
					return
				}
			}
		}
	}
}

func send(conn *websocket.Conn, metrics *monitoring.Metrics, msg models.Message) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	if metrics != nil {
		metrics.RecordWSMessage(msg.Type)
	}
	return nil
}

// ForwardLogs broadcasts every new log entry to watchers and returns a
// function that stops forwarding
func ForwardLogs(logStore *logging.LogStore, reg *registry.Registry) func() {
	return logStore.Subscribe(func(entry models.LogEntry) {
		reg.Broadcast(models.Message{Type: models.MessageLog, Log: &entry})
	})
}
