// Package api serves the JSON HTTP surface. Parent endpoints manage the
// catalog and read analytics; child endpoints run tasks and spend points.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
)

const maxBodyBytes = 10 << 20

// Authenticator checks the parent PIN and issues tokens.
type Authenticator interface {
	TokenParser
	CheckPIN(pin string) error
	IssueToken(role model.Role) (string, time.Time, error)
}

type Deps struct {
	Auth     Authenticator
	Tasks    *service.TaskService
	Courses  *service.CourseService
	Rewards  *service.RewardService
	Badges   *service.BadgeService
	Reports  *service.ReportService
	Backup   *service.BackupService
	Sessions *service.SessionService
	Sync     *service.SyncService
	Origins  []string
}

type Server struct {
	Deps
}

func NewServer(deps Deps) *Server {
	return &Server{Deps: deps}
}

func optionsHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Handler builds the router with CORS applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"service":   "edu-tracker",
		})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.PathPrefix("/").HandlerFunc(optionsHandler).Methods(http.MethodOptions)
	v1.HandleFunc("/auth/parent", s.authParent).Methods(http.MethodPost)
	v1.HandleFunc("/auth/child", s.authChild).Methods(http.MethodPost)

	authed := AuthMiddleware(s.Auth)

	child := v1.NewRoute().Subrouter()
	child.Use(authed)
	child.HandleFunc("/tasks/{id}/start", s.startTask).Methods(http.MethodPost)
	child.HandleFunc("/tasks/{id}/complete", s.completeTask).Methods(http.MethodPost)
	child.HandleFunc("/rewards/{id}/claim", s.claimReward).Methods(http.MethodPost)
	child.HandleFunc("/badges", s.listBadges).Methods(http.MethodGet)
	child.HandleFunc("/points", s.points).Methods(http.MethodGet)

	parent := v1.NewRoute().Subrouter()
	parent.Use(authed, ParentOnly)
	parent.HandleFunc("/courses", s.listCourses).Methods(http.MethodGet)
	parent.HandleFunc("/courses", s.createCourse).Methods(http.MethodPost)
	parent.HandleFunc("/courses/{id}", s.deleteCourse).Methods(http.MethodDelete)
	parent.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	parent.HandleFunc("/tasks", s.createTask).Methods(http.MethodPost)
	parent.HandleFunc("/tasks/{id}", s.deleteTask).Methods(http.MethodDelete)
	parent.HandleFunc("/rewards", s.listRewards).Methods(http.MethodGet)
	parent.HandleFunc("/rewards", s.createReward).Methods(http.MethodPost)
	parent.HandleFunc("/rewards/{id}", s.deleteReward).Methods(http.MethodDelete)
	parent.HandleFunc("/performance", s.performance).Methods(http.MethodGet)
	parent.HandleFunc("/reports/{period}", s.report).Methods(http.MethodGet)
	parent.HandleFunc("/export", s.export).Methods(http.MethodGet)
	parent.HandleFunc("/import", s.importBackup).Methods(http.MethodPost)

	corsOpts := []handlers.CORSOption{
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	}
	if len(s.Origins) > 0 {
		corsOpts = append(corsOpts, handlers.AllowedOrigins(s.Origins))
	}
	return handlers.CORS(corsOpts...)(r)
}
