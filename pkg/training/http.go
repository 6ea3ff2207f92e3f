package training

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/decompensation/pkg/common/logger"
	"github.com/synaptica-ai/decompensation/pkg/observability/metrics"
)

// HTTPHandler exposes a Reader over HTTP. The reader is guarded by a mutex
// since ReadNext and Shuffle mutate it.
type HTTPHandler struct {
	mu     sync.Mutex
	reader *Reader
}

func NewHTTPHandler(reader *Reader) *HTTPHandler {
	return &HTTPHandler{reader: reader}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.handleMetrics).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/examples", h.handleCount).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/examples/next", h.handleNext).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/examples/shuffle", h.handleShuffle).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/examples/{index:[0-9]+}", h.handleReadAt).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (h *HTTPHandler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w)
}

func (h *HTTPHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	count := h.reader.Count()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *HTTPHandler) handleReadAt(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	sample, err := h.reader.ReadAt(index)
	h.mu.Unlock()
	h.writeSample(w, sample, err)
}

func (h *HTTPHandler) handleNext(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	sample, err := h.reader.ReadNext()
	h.mu.Unlock()
	h.writeSample(w, sample, err)
}

func (h *HTTPHandler) handleShuffle(w http.ResponseWriter, r *http.Request) {
	var seed *int64
	if raw := r.URL.Query().Get("seed"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid seed", http.StatusBadRequest)
			return
		}
		seed = &value
	}
	h.mu.Lock()
	h.reader.Shuffle(seed)
	count := h.reader.Count()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"shuffled": true, "count": count})
}

func (h *HTTPHandler) writeSample(w http.ResponseWriter, sample Sample, err error) {
	if err != nil {
		switch {
		case errors.Is(err, ErrIndexOutOfRange):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrMissingHoursColumn):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, os.ErrNotExist):
			http.Error(w, "time series not found", http.StatusNotFound)
		default:
			logger.Log.WithError(err).Error("failed to read example")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	metrics.IncExamplesServed()
	writeJSON(w, http.StatusOK, sample)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
