package generation

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"brand-canvas-server/modules/common/auth"
)

// maxRequestBytes - 요청 바디 상한 (프롬프트 텍스트만 받음)
const maxRequestBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - /ai 하위 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ai/generate", h.HandleGenerate).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/ai/generations", h.HandleList).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/ai/generations/{id}", h.HandleGet).Methods(http.MethodGet, http.MethodOptions)
}

// HandleGenerate - POST /ai/generate
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		logrus.WithError(err).Warn("❌ [Generation] Invalid request body")
		writeError(w, &ValidationError{Fields: []string{"invalid JSON body"}})
		return
	}

	userID := auth.UserIDFromContext(r.Context())
	resp, err := h.service.Generate(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleList - GET /ai/generations?limit=&offset=&dataset_id=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit, err := intParam(query.Get("limit"), 0)
	if err != nil {
		writeError(w, &ValidationError{Fields: []string{"limit must be an integer"}})
		return
	}
	offset, err := intParam(query.Get("offset"), 0)
	if err != nil {
		writeError(w, &ValidationError{Fields: []string{"offset must be an integer"}})
		return
	}

	datasetID := query.Get("dataset_id")
	if datasetID == "" {
		datasetID = query.Get("folder_id")
	}
	if datasetID != "" && !isUUID(datasetID) {
		writeError(w, &ValidationError{Fields: []string{"dataset_id must be a UUID"}})
		return
	}

	page, err := h.service.List(r.Context(), auth.UserIDFromContext(r.Context()), datasetID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, GenerationPage: page})
}

// HandleGet - GET /ai/generations/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !isUUID(id) {
		writeError(w, ErrRecordNotFound)
		return
	}

	record, err := h.service.Get(r.Context(), auth.UserIDFromContext(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"generation": record,
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("❌ Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("status", status).Error("❌ [Generation] Request failed")
	}
	writeJSON(w, status, body)
}
