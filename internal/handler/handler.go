package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/formrelay/form-service/internal/export"
	"github.com/formrelay/form-service/internal/middleware"
	"github.com/formrelay/form-service/internal/models"
	"github.com/formrelay/form-service/internal/repository"
	"github.com/formrelay/form-service/internal/service"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// UserService is the account-facing surface of the service layer
type UserService interface {
	Register(ctx context.Context, email, password string) (*models.User, error)
	VerifyCredentials(ctx context.Context, email, password string) (*models.User, error)
	AddFormToUser(ctx context.Context, userID int64, formID, name string) (*models.Form, error)
	ProvisionAPIKey(ctx context.Context, userID int64) (*models.APIKey, error)
}

// FormService is the submission-facing surface of the service layer
type FormService interface {
	GetForm(ctx context.Context, formID string) (*models.Form, error)
	ListSubmissions(ctx context.Context, formID string) ([]models.FormSubmit, error)
	Submit(ctx context.Context, formID, origin string, parameters map[string]string, now time.Time) (*models.FormSubmit, error)
}

// RegistrationGate is consulted before every registration attempt
type RegistrationGate interface {
	IsRegistrationOpen(ctx context.Context) bool
}

// TokenIssuer signs bearer tokens for authenticated users
type TokenIssuer interface {
	Issue(userID int64) (string, error)
}

type Handler struct {
	users  UserService
	forms  FormService
	gate   RegistrationGate
	tokens TokenIssuer
	log    *logrus.Logger
	now    func() time.Time
}

// NewHandler wires the HTTP layer to its collaborators
func NewHandler(users UserService, forms FormService, gate RegistrationGate, tokens TokenIssuer, log *logrus.Logger) *Handler {
	return &Handler{
		users:  users,
		forms:  forms,
		gate:   gate,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeMissingField(w http.ResponseWriter, field string) {
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, "Field '%s' is required, but it was missing", field)
}

func formNotFound(w http.ResponseWriter, formID string) {
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "The form with the formId %s was not found", formID)
}

// readCredential accepts a JSON body or its form-urlencoded equivalent
func readCredential(r *http.Request) (models.Credential, error) {
	var cred models.Credential
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return cred, err
		}
		cred.Email = r.PostForm.Get("email")
		cred.Password = r.PostForm.Get("password")
		return cred, nil
	}
	err := json.NewDecoder(r.Body).Decode(&cred)
	return cred, err
}

// checkCredential reports the first missing required field, if any
func checkCredential(w http.ResponseWriter, cred models.Credential) bool {
	if cred.Email == "" {
		writeMissingField(w, "email")
		return false
	}
	if cred.Password == "" {
		writeMissingField(w, "password")
		return false
	}
	return true
}

// Login verifies credentials and responds with a bearer token. An
// unknown email and a wrong password both produce the identical empty
// 401 so account existence cannot be probed.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	cred, err := readCredential(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !checkCredential(w, cred) {
		return
	}

	user, err := h.users.VerifyCredentials(r.Context(), cred.Email, cred.Password)
	if errors.Is(err, repository.ErrNotFound) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.log.Errorf("Login failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.log.Errorf("Token issuance failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, token)
}

// Register creates a new account when the registration gate is open.
// A duplicate email answers 304 Not Modified, deliberately not an
// error status, to keep the response shape symmetric.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.gate.IsRegistrationOpen(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	cred, err := readCredential(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !checkCredential(w, cred) {
		return
	}

	if _, err := h.users.Register(r.Context(), cred.Email, cred.Password); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		h.log.Errorf("Registration failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// GetSubmissions lists all submissions for an existing form
func (h *Handler) GetSubmissions(w http.ResponseWriter, r *http.Request) {
	formID := mux.Vars(r)["formId"]

	submissions, err := h.forms.ListSubmissions(r.Context(), formID)
	if errors.Is(err, service.ErrFormNotFound) {
		formNotFound(w, formID)
		return
	}
	if err != nil {
		h.log.Errorf("Listing submissions failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, submissions)
}

// SubmitForm accepts an anonymous submission, from query parameters
// on GET or a url-encoded body on POST. Both shapes normalize to the
// same parameter map; the path's formId never becomes a parameter.
func (h *Handler) SubmitForm(w http.ResponseWriter, r *http.Request) {
	formID := mux.Vars(r)["formId"]

	var values map[string][]string
	if r.Method == http.MethodGet {
		values = r.URL.Query()
	} else {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		values = r.PostForm
	}

	parameters := make(map[string]string, len(values))
	for key, value := range values {
		if key == "formId" || len(value) == 0 {
			continue
		}
		parameters[key] = value[0]
	}

	submission, err := h.forms.Submit(r.Context(), formID, r.Header.Get("Origin"), parameters, h.now())
	if errors.Is(err, service.ErrFormNotFound) {
		formNotFound(w, formID)
		return
	}
	if err != nil {
		h.log.Errorf("Submission failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, submission)
}

// pathUser extracts the {userId} path variable and checks it against
// the authenticated user. A mismatch answers 403.
func pathUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	authUserID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return 0, false
	}

	pathID, err := strconv.ParseInt(mux.Vars(r)["userId"], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	if pathID != authUserID {
		w.WriteHeader(http.StatusForbidden)
		return 0, false
	}
	return authUserID, true
}

type addFormRequest struct {
	FormID string `json:"formId"`
	Name   string `json:"name"`
}

// AddForm registers a new form under the authenticated user
func (h *Handler) AddForm(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	var req addFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.FormID == "" {
		writeMissingField(w, "formId")
		return
	}
	if req.Name == "" {
		writeMissingField(w, "name")
		return
	}

	if _, err := h.users.AddFormToUser(r.Context(), userID, req.FormID, req.Name); err != nil {
		if errors.Is(err, repository.ErrDuplicateForm) {
			w.WriteHeader(http.StatusConflict)
			fmt.Fprintf(w, "The formId %s is already taken", req.FormID)
			return
		}
		h.log.Errorf("Adding form failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// ProvisionAPIKey assigns a fresh API key to the authenticated user
func (h *Handler) ProvisionAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	key, err := h.users.ProvisionAPIKey(r.Context(), userID)
	if err != nil {
		h.log.Errorf("API key provisioning failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, key)
}

// ExportSubmissions streams a form's submissions as XML. Only the
// form's owner may export.
func (h *Handler) ExportSubmissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	formID := mux.Vars(r)["formId"]

	form, err := h.forms.GetForm(r.Context(), formID)
	if errors.Is(err, service.ErrFormNotFound) {
		formNotFound(w, formID)
		return
	}
	if err != nil {
		h.log.Errorf("Export failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if form.UserID != userID {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	submissions, err := h.forms.ListSubmissions(r.Context(), formID)
	if err != nil {
		h.log.Errorf("Export failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	doc := export.Document(form, submissions)
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := doc.WriteTo(w); err != nil {
		h.log.Errorf("Writing export failed: %v", err)
	}
}

// Health is a liveness probe
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
