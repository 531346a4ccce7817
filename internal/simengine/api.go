package simengine

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"bandsim/internal/execution"
	"bandsim/internal/model"
	"bandsim/internal/normalize"
)

// Options lists the supported instruments and chart settings.
type Options struct {
	Symbols   []string `json:"symbols"`
	Intervals []string `json:"intervals"`
	Lookbacks []int    `json:"lookbacks"`
	Defaults  Market   `json:"defaults"`
}

type listTradesQuery struct {
	Limit  int `json:"limit" default:"500" validate:"gte=1,lte=5000"`
	Offset int `json:"offset" validate:"gte=0"`
}

// RegisterRoutes mounts the session API on mux.
func (svc *Service) RegisterRoutes(mux *http.ServeMux, opts Options) {
	opts.Defaults = svc.defaults

	mux.HandleFunc("GET /api/options", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, opts)
	})
	mux.HandleFunc("POST /api/sessions", svc.handleCreate)
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Sessions())
	})
	mux.HandleFunc("GET /api/sessions/{id}", svc.handleGet)
	mux.HandleFunc("DELETE /api/sessions/{id}", svc.handleClose)
	mux.HandleFunc("POST /api/sessions/{id}/evaluate", svc.handleEvaluate)
	mux.HandleFunc("POST /api/sessions/{id}/finalize", svc.handleFinalize)
	mux.HandleFunc("GET /api/trades", svc.handleTrades)
}

func (svc *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	// Every field is optional; the service defaults fill the gaps.
	var m Market
	if errs := decodeBody(r, &m); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	m = svc.WithDefaults(m)
	m.Symbol = strings.ToUpper(m.Symbol)
	if errs := setAndValidate(r.Context(), &m); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	writeJSON(w, http.StatusCreated, svc.CreateSession(m))
}

func (svc *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := svc.Session(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (svc *Service) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := svc.CloseSession(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (svc *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var t Triggers
	if errs := readAndValidate(r.Context(), r, &t); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	res, err := svc.Evaluate(r.Context(), r.PathValue("id"), t)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) handleFinalize(w http.ResponseWriter, r *http.Request) {
	rec, err := svc.Finalize(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"finalized": rec != nil,
		"trade":     rec,
	})
}

func (svc *Service) handleTrades(w http.ResponseWriter, r *http.Request) {
	var q listTradesQuery
	if errs := decodeQuery(r, &q); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}
	if errs := setAndValidate(r.Context(), &q); errs != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
		return
	}

	all, err := svc.Trades(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	total := len(all)
	page := []model.TradeRecord{}
	if q.Offset < total {
		end := q.Offset + q.Limit
		if end > total {
			end = total
		}
		page = all[q.Offset:end]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  total,
		"offset": q.Offset,
		"trades": page,
	})
}

// decodeQuery copies the limit and offset query parameters into q.
func decodeQuery(r *http.Request, q *listTradesQuery) []ValidationError {
	vals := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &q.Limit, "offset": &q.Offset} {
		v := vals.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return []ValidationError{{Code: "ERR_QUERY", Field: name, Message: name + " must be an integer"}}
		}
		*dst = n
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		malErr  *normalize.MalformedCandleError
		ordErr  *normalize.OrderingError
		trigErr *execution.InvalidTriggerError
		srcErr  *SourceError
		lweErr  *execution.LedgerWriteError
	)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &malErr), errors.As(err, &ordErr), errors.As(err, &trigErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &srcErr):
		return http.StatusBadGateway
	case errors.As(err, &lweErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("[simengine] internal error: %v", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
