package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aidenletourneau/gated_pipeline/server/internal/logging"
	"github.com/aidenletourneau/gated_pipeline/server/internal/models"
	"github.com/aidenletourneau/gated_pipeline/server/internal/registry"
	"github.com/aidenletourneau/gated_pipeline/server/internal/store"
)

// Pipeline is the driver surface the API reads and controls
type Pipeline interface {
	Snapshot() models.PipelineSnapshot
	Report() (models.RunReport, bool)
	StopProducer()
	StopConsumer()
}

// RunStore lists and deletes archived run reports
type RunStore interface {
	GetAllRuns() ([]models.RunReport, error)
	GetRun(runID string) (*models.RunReport, error)
	DeleteRun(runID string) error
}

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// HandleGetStatus returns the current pipeline snapshot
func HandleGetStatus(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, p.Snapshot())
	}
}

// HandleGetReport returns the report of the current run once it has finished
func HandleGetReport(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, ok := p.Report()
		if !ok {
			http.Error(w, "Run still in progress", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleGetLogs returns all log entries
func HandleGetLogs(logStore *logging.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, logStore.GetAll())
	}
}

// HandleClearLogs drops all stored log entries
func HandleClearLogs(logStore *logging.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logStore.Clear()
		w.WriteHeader(http.StatusNoContent)
	}
}

// StopResponse reports the component state after a stop request
type StopResponse struct {
	Component string                `json:"component"`
	State     models.ComponentState `json:"state"`
}

// HandleStopProducer stops the producer before its run timer fires
func HandleStopProducer(p Pipeline, logStore *logging.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logStore.LogAndStore("info", "Producer stop requested via API")
		p.StopProducer()
		writeJSON(w, http.StatusOK, StopResponse{
			Component: "producer",
			State:     p.Snapshot().Producer.State,
		})
	}
}

// HandleStopConsumer stops the consumer before its run timer fires
func HandleStopConsumer(p Pipeline, logStore *logging.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logStore.LogAndStore("info", "Consumer stop requested via API")
		p.StopConsumer()
		writeJSON(w, http.StatusOK, StopResponse{
			Component: "consumer",
			State:     p.Snapshot().Consumer.State,
		})
	}
}

// HandleGetRuns returns all archived run reports
func HandleGetRuns(runs RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := runs.GetAllRuns()
		if err != nil {
			http.Error(w, "Failed to retrieve runs: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, reports)
	}
}

// HandleGetRun returns one archived run report
func HandleGetRun(runs RunStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")

		report, err := runs.GetRun(runID)
		if errors.Is(err, store.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Failed to retrieve run: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// HandleDeleteRun deletes one archived run report
func HandleDeleteRun(runs RunStore, logStore *logging.LogStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")

		err := runs.DeleteRun(runID)
		if errors.Is(err, store.ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, "Failed to delete run: "+err.Error(), http.StatusInternalServerError)
			return
		}

		logStore.LogAndStore("info", "Run deleted: %s", runID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// WatcherResponse represents a connected watcher in the API response
type WatcherResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HandleGetWatchers returns all connected watchers
func HandleGetWatchers(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		watchers := reg.GetAll()
		response := make([]WatcherResponse, 0, len(watchers))
		for id, watcher := range watchers {
			response = append(response, WatcherResponse{
				ID:   id,
				Name: watcher.Name,
			})
		}
		writeJSON(w, http.StatusOK, response)
	}
}
