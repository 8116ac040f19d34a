package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/app"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
)

// RESTHandler serves content, results and summaries over plain HTTP.
type RESTHandler struct {
	service *app.ReportService
	issuer  *identity.Issuer
	log     logrus.FieldLogger
}

func NewRESTHandler(service *app.ReportService, issuer *identity.Issuer, log logrus.FieldLogger) *RESTHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RESTHandler{service: service, issuer: issuer, log: log}
}

// Register mounts the API routes on r.
func (h *RESTHandler) Register(r *mux.Router) {
	r.HandleFunc("/identity", h.issueIdentity).Methods(http.MethodPost)
	r.HandleFunc("/questions/{id}", h.question).Methods(http.MethodGet)
	r.HandleFunc("/questions/{id}/results", h.results).Methods(http.MethodGet)
	r.HandleFunc("/pages/{slug}", h.page).Methods(http.MethodGet)
	r.HandleFunc("/pages/{slug}/cue", h.cue).Methods(http.MethodGet)
	r.HandleFunc("/summary", h.summary).Methods(http.MethodGet)
}

// issueIdentity mints a new anonymous identity, or refreshes the one carried by ?token=.
func (h *RESTHandler) issueIdentity(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		h.writeJSON(w, http.StatusCreated, identity.Identity{ID: uuid.NewString()})
		return
	}
	var (
		id  identity.Identity
		err error
	)
	if token := r.URL.Query().Get("token"); token != "" {
		id, err = h.issuer.Parse(token)
		if err == nil {
			id, err = h.issuer.Sign(id.ID)
		}
	} else {
		id, err = h.issuer.Issue()
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, id)
}

// question returns a question definition without its answer key.
func (h *RESTHandler) question(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.Question(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	options := make([]domain.Option, len(q.Options))
	for i, opt := range q.Options {
		options[i] = domain.Option{ID: opt.ID, Label: opt.Label}
	}
	q.Options = options
	q.CorrectValue = nil
	h.writeJSON(w, http.StatusOK, q)
}

func (h *RESTHandler) results(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Results(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *RESTHandler) page(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.Page(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	page.AudioSrc = page.AudioPath()
	h.writeJSON(w, http.StatusOK, page)
}

type cueResponse struct {
	Index int     `json:"index"`
	Time  float64 `json:"t"`
	Cue   any     `json:"cue"`
}

func (h *RESTHandler) cue(w http.ResponseWriter, r *http.Request) {
	t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
	if err != nil {
		http.Error(w, "t must be a number of seconds", http.StatusBadRequest)
		return
	}
	cue, idx, err := h.service.Cue(r.Context(), mux.Vars(r)["slug"], t)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := cueResponse{Index: idx, Time: t}
	if idx >= 0 {
		resp.Cue = cue
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// summary reports the finalized answers of the voter identified by ?token= (or ?user= when
// tokens are not signed).
func (h *RESTHandler) summary(w http.ResponseWriter, r *http.Request) {
	userID, err := h.userID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	raw := r.URL.Query().Get("questions")
	if raw == "" {
		http.Error(w, "questions is required", http.StatusBadRequest)
		return
	}
	summary, err := h.service.Summary(r.Context(), userID, strings.Split(raw, ","))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *RESTHandler) userID(r *http.Request) (string, error) {
	q := r.URL.Query()
	if h.issuer != nil {
		id, err := h.issuer.Parse(q.Get("token"))
		if err != nil {
			return "", err
		}
		return id.ID, nil
	}
	if user := q.Get("user"); user != "" {
		return user, nil
	}
	return "", domain.ErrMissingIdentity
}

func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("response encoding failed")
	}
}

func (h *RESTHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrPageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrMissingIdentity):
		status = http.StatusUnauthorized
	default:
		h.log.WithError(err).Error("request failed")
	}
	http.Error(w, err.Error(), status)
}
