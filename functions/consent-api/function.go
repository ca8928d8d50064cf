package consentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/bootstrap"
	"github.com/sitebridge/server/pkg/domain/consent"
	"github.com/sitebridge/server/pkg/types"
)

var (
	svc     *bootstrap.Service
	router  *chi.Mux
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.HTTP("ConsentAPI", ConsentAPI)
}

func initService(ctx context.Context) error {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
		if svcErr != nil {
			return
		}
		logger := bootstrap.NewLogger("consent-api")
		service := consent.NewService(svc.DB, logger, svc.Config.SessionStateRetention)
		router = newRouter(service)
	})
	return svcErr
}

// ConsentAPI is the entry point
func ConsentAPI(w http.ResponseWriter, r *http.Request) {
	if err := initService(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("service init failed: %v", err), http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(service *consent.Service) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/users/{userId}/consent-sessions", func(r chi.Router) {
		r.Post("/", createHandler(service))
		r.Post("/submit", submitHandler(service))
		r.Delete("/{userSiteId}", removeHandler(service))
	})
	return r
}

type createRequest struct {
	UserSiteID               uuid.UUID              `json:"user_site_id"`
	SiteID                   uuid.UUID              `json:"site_id"`
	Provider                 string                 `json:"provider"`
	Operation                types.ConsentOperation `json:"operation"`
	RedirectURLID            string                 `json:"redirect_url_id"`
	ActivityID               uuid.UUID              `json:"activity_id"`
	ClientID                 string                 `json:"client_id"`
	OriginalConnectionStatus types.ConnectionStatus `json:"original_connection_status,omitempty"`
	OriginalFailureReason    string                 `json:"original_failure_reason,omitempty"`
}

type sessionResponse struct {
	StateID    uuid.UUID `json:"state_id"`
	UserSiteID uuid.UUID `json:"user_site_id"`
	StepNumber int       `json:"step_number"`
	ActivityID uuid.UUID `json:"activity_id"`
	Created    time.Time `json:"created"`
}

func createHandler(service *consent.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")

		var req createRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid-body", err.Error())
			return
		}
		if req.UserSiteID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid-body", "user_site_id is required")
			return
		}
		switch req.Operation {
		case types.OperationCreateUserSite, types.OperationUpdateUserSite:
		default:
			writeError(w, http.StatusBadRequest, "invalid-body", "unsupported operation")
			return
		}

		session, err := service.Create(r.Context(), consent.CreateParams{
			UserID:                   userID,
			UserSiteID:               req.UserSiteID,
			SiteID:                   req.SiteID,
			Provider:                 req.Provider,
			Operation:                req.Operation,
			RedirectURLID:            req.RedirectURLID,
			ActivityID:               req.ActivityID,
			ClientID:                 req.ClientID,
			OriginalConnectionStatus: req.OriginalConnectionStatus,
			OriginalFailureReason:    req.OriginalFailureReason,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}

		writeJSON(w, http.StatusCreated, sessionResponse{
			StateID:    session.StateID,
			UserSiteID: session.UserSiteID,
			StepNumber: session.StepNumber,
			ActivityID: session.ActivityID,
			Created:    session.Created,
		})
	}
}

type submitRequest struct {
	StateID       uuid.UUID `json:"state_id"`
	ProviderState string    `json:"provider_state,omitempty"`
	FormStep      string    `json:"form_step,omitempty"`
	RedirectStep  string    `json:"redirect_url_step,omitempty"`
}

type submitResponse struct {
	NewStateID uuid.UUID              `json:"new_state_id"`
	UserSiteID uuid.UUID              `json:"user_site_id"`
	Operation  types.ConsentOperation `json:"operation"`
	StepNumber int                    `json:"step_number"`
	ActivityID uuid.UUID              `json:"activity_id"`
}

func submitHandler(service *consent.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid-body", err.Error())
			return
		}
		if req.StateID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "invalid-body", "state_id is required")
			return
		}

		session, newStateID, err := service.Submit(r.Context(), userID, req.StateID)
		if err != nil {
			writeSubmitFailure(w, err)
			return
		}

		if req.FormStep != "" || req.RedirectStep != "" {
			if err := service.UpdateStep(r.Context(), session, req.ProviderState, req.FormStep, req.RedirectStep); err != nil {
				writeError(w, http.StatusBadRequest, "invalid-step", err.Error())
				return
			}
			if err := service.AdvanceStep(r.Context(), session); err != nil {
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
				return
			}
		}

		writeJSON(w, http.StatusOK, submitResponse{
			NewStateID: newStateID,
			UserSiteID: session.UserSiteID,
			Operation:  session.Operation,
			StepNumber: session.StepNumber,
			ActivityID: session.ActivityID,
		})
	}
}

func removeHandler(service *consent.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		userSiteID, err := uuid.Parse(chi.URLParam(r, "userSiteId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid-body", "invalid user site id")
			return
		}
		if err := service.Remove(r.Context(), userID, userSiteID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeSubmitFailure maps each classified submit failure to its own
// status and error kind; the caller reacts differently to each.
func writeSubmitFailure(w http.ResponseWriter, err error) {
	var (
		unknown    *consent.UnknownStateError
		submitted  *consent.AlreadySubmittedError
		superseded *consent.SupersededError
		expired    *consent.ExpiredError
	)
	switch {
	case errors.As(err, &unknown):
		writeError(w, http.StatusNotFound, "unknown-state", unknown.Error())
	case errors.As(err, &submitted):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":        "already-submitted",
			"message":      submitted.Error(),
			"submitted_at": submitted.SubmittedAt,
		})
	case errors.As(err, &superseded):
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":         "superseded",
			"message":       superseded.Error(),
			"newer_created": superseded.NewerCreated,
		})
	case errors.As(err, &expired):
		writeError(w, http.StatusGone, "expired", expired.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}
