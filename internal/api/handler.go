package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agentic-pharmacy/server/internal/agent/model"
	errx "github.com/agentic-pharmacy/server/internal/core/error"
	"github.com/agentic-pharmacy/server/internal/pharmacy"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

// Agent runs chat turns. graph.Runner satisfies it.
type Agent interface {
	Invoke(ctx context.Context, in model.TurnInput) (string, error)
	ClearThread(ctx context.Context, threadID string) error
}

// Inventory is the read side of the pharmacy store used by the admin views.
type Inventory interface {
	ListMedicines(ctx context.Context) ([]pharmacy.Medicine, error)
	ListHistory(ctx context.Context) ([]pharmacy.OrderRecord, error)
}

type AlertSource interface {
	RefillMessages(ctx context.Context) ([]string, error)
}

type PrescriptionProcessor interface {
	ProcessPrescription(ctx context.Context, image []byte, mimeType string) map[string]any
}

type Handler struct {
	agent         Agent
	inventory     Inventory
	alerts        AlertSource
	prescriptions PrescriptionProcessor
	maxUpload     int64
}

func NewHandler(agent Agent, inventory Inventory, alerts AlertSource, prescriptions PrescriptionProcessor, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{
		agent:         agent,
		inventory:     inventory,
		alerts:        alerts,
		prescriptions: prescriptions,
		maxUpload:     maxUpload,
	}
}

type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type inventoryItem struct {
	ID    int64   `json:"id"`
	Name  string  `json:"name"`
	Stock int     `json:"stock"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

type historyItem struct {
	ID       int64  `json:"id"`
	Patient  string `json:"patient"`
	Medicine string `json:"medicine"`
	Qty      int    `json:"qty"`
	Date     string `json:"date"`
}

func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Agentic Pharmacy API is running"})
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusUnprocessableEntity, "message is required")
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" {
		req.ThreadID = model.DefaultThreadID
	}

	response, err := h.agent.Invoke(r.Context(), model.TurnInput{ThreadID: req.ThreadID, Message: req.Message})
	if err != nil {
		status := errx.StatusOf(err)
		detail := err.Error()
		switch {
		case status == http.StatusTooManyRequests:
			detail = errx.RateLimitMessage
		case errors.Is(err, errx.ErrIterationLimit):
			detail = errx.IterationLimitMessage
		}
		logx.Error().Err(err).Str("thread_id", req.ThreadID).Int("status", status).Msg("Error during agent invocation")
		writeError(w, status, detail)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: response})
}

func (h *Handler) ClearThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if err := h.agent.ClearThread(r.Context(), threadID); err != nil {
		logx.Error().Err(err).Str("thread_id", threadID).Msg("Failed to clear thread")
		writeError(w, errx.StatusOf(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.alerts.RefillMessages(r.Context())
	if err != nil {
		writeError(w, errx.StatusOf(err), err.Error())
		return
	}
	if alerts == nil {
		alerts = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"alerts": alerts})
}

func (h *Handler) Inventory(w http.ResponseWriter, r *http.Request) {
	meds, err := h.inventory.ListMedicines(r.Context())
	if err != nil {
		writeError(w, errx.StatusOf(err), err.Error())
		return
	}
	items := make([]inventoryItem, 0, len(meds))
	for _, m := range meds {
		items = append(items, inventoryItem{ID: m.ID, Name: m.Name, Stock: m.Stock, Unit: m.Unit, Price: m.Price})
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	records, err := h.inventory.ListHistory(r.Context())
	if err != nil {
		writeError(w, errx.StatusOf(err), err.Error())
		return
	}
	items := make([]historyItem, 0, len(records))
	for _, rec := range records {
		items = append(items, historyItem{
			ID:       rec.ID,
			Patient:  rec.PatientID,
			Medicine: rec.Medicine,
			Qty:      rec.Quantity,
			Date:     rec.DatePurchased,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// UploadPrescription reads the whole multipart file, bounded by maxUpload,
// and returns the extracted fields or a diagnostic object.
func (h *Handler) UploadPrescription(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "file is required")
		return
	}
	defer file.Close()

	contents, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if int64(len(contents)) > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(contents)
	}
	writeJSON(w, http.StatusOK, h.prescriptions.ProcessPrescription(r.Context(), contents, mimeType))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logx.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
