package activityapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sitebridge/server/pkg/bootstrap"
	"github.com/sitebridge/server/pkg/domain/activity"
)

var (
	svc     *bootstrap.Service
	router  *chi.Mux
	svcOnce sync.Once
	svcErr  error
)

func init() {
	functions.HTTP("ActivityAPI", ActivityAPI)
}

func initService(ctx context.Context) error {
	svcOnce.Do(func() {
		svc, svcErr = bootstrap.NewService(ctx)
		if svcErr != nil {
			return
		}
		logger := bootstrap.NewLogger("activity-api")
		projection := activity.NewProjection(svc.DB, logger)
		store := activity.NewStore(svc.DB, logger)
		router = newRouter(projection, store)
	})
	return svcErr
}

// ActivityAPI is the entry point
func ActivityAPI(w http.ResponseWriter, r *http.Request) {
	if err := initService(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("service init failed: %v", err), http.StatusInternalServerError)
		return
	}
	router.ServeHTTP(w, r)
}

func newRouter(projection *activity.Projection, store *activity.Store) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/users/{userId}/activities", listHandler(projection))
	r.Get("/users/{userId}/activities/{activityId}/events", eventsHandler(store))
	return r
}

// listHandler serves the activity history, optionally filtered with
// ?running=true to activities that have no end time yet.
func listHandler(projection *activity.Projection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		runningOnly := r.URL.Query().Get("running") == "true"

		records, err := projection.ListForUser(r.Context(), userID, runningOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"activities": records})
	}
}

func eventsHandler(store *activity.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userId")
		activityID, err := uuid.Parse(chi.URLParam(r, "activityId"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid activity id")
			return
		}

		events, err := store.ListByActivity(r.Context(), userID, activityID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
