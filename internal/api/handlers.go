package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"edu-tracker/internal/model"
	"edu-tracker/internal/service"
	"edu-tracker/internal/timer"
)

type tokenResponse struct {
	Token     string     `json:"token"`
	Role      model.Role `json:"role"`
	ExpiresAt time.Time  `json:"expiresAt"`
}

func (s *Server) authParent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.Auth.CheckPIN(req.PIN); err != nil {
		writeFail(w, http.StatusUnauthorized, "Wrong PIN")
		return
	}
	s.issue(w, r, model.RoleParent)
}

func (s *Server) authChild(w http.ResponseWriter, r *http.Request) {
	s.issue(w, r, model.RoleChild)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, role model.Role) {
	token, exp, err := s.Auth.IssueToken(role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Token issued", tokenResponse{Token: token, Role: role, ExpiresAt: exp})
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.Courses.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Courses", courses)
}

func (s *Server) createCourse(w http.ResponseWriter, r *http.Request) {
	var input service.CourseInput
	if !decodeBody(w, r, &input) {
		return
	}
	course, err := s.Courses.AddCourse(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Course created", course)
}

func (s *Server) deleteCourse(w http.ResponseWriter, r *http.Request) {
	if err := s.Courses.DeleteCourse(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Course deleted", nil)
}

// listTasks returns pending tasks unless ?status=completed is given.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	var (
		tasks []model.Task
		err   error
	)
	switch r.URL.Query().Get("status") {
	case "", string(model.StatusPending):
		tasks, err = s.Tasks.ListPending(r.Context())
	case string(model.StatusCompleted):
		tasks, err = s.Tasks.ListCompleted(r.Context(), time.Time{})
	default:
		writeFail(w, http.StatusBadRequest, "status must be pending or completed")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Tasks", tasks)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var input service.TaskInput
	if !decodeBody(w, r, &input) {
		return
	}
	task, err := s.Tasks.AddTask(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Task created", task)
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Tasks.DeleteTask(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Task deleted", nil)
}

type sessionResponse struct {
	Task     *model.Task    `json:"task"`
	Snapshot timer.Snapshot `json:"snapshot"`
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := s.Sessions.Start(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	task, err := s.Tasks.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Session started", sessionResponse{Task: task, Snapshot: d.Snapshot()})
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	var input model.Completion
	if !decodeBody(w, r, &input) {
		return
	}
	task, err := s.Sessions.Complete(r.Context(), mux.Vars(r)["id"], input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Task completed", task)
}

func (s *Server) listRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.Rewards.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Rewards", rewards)
}

func (s *Server) createReward(w http.ResponseWriter, r *http.Request) {
	var input service.RewardInput
	if !decodeBody(w, r, &input) {
		return
	}
	reward, err := s.Rewards.AddReward(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, "Reward created", reward)
}

func (s *Server) deleteReward(w http.ResponseWriter, r *http.Request) {
	if err := s.Rewards.DeleteReward(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Reward deleted", nil)
}

func (s *Server) claimReward(w http.ResponseWriter, r *http.Request) {
	reward, balance, err := s.Rewards.ClaimReward(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Reward claimed", map[string]interface{}{
		"reward": reward,
		"points": balance,
	})
}

func (s *Server) listBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := s.Badges.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Badges", badges)
}

func (s *Server) points(w http.ResponseWriter, r *http.Request) {
	points, err := s.Tasks.Points(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Points", map[string]int{"points": points})
}

func (s *Server) performance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.Tasks.Performance(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Performance", perf)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	report, err := s.Reports.Report(r.Context(), service.ReportPeriod(mux.Vars(r)["period"]))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if report == nil {
		writeOK(w, http.StatusOK, "No completed tasks in this period", nil)
		return
	}
	writeOK(w, http.StatusOK, "Report", report)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	backup, err := s.Backup.Export(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Sync != nil {
		s.Sync.Push(r.Context())
	}
	writeOK(w, http.StatusOK, "Backup", backup)
}

func (s *Server) importBackup(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeFail(w, http.StatusBadRequest, "Could not read body")
		return
	}
	if err := s.Backup.Import(r.Context(), raw); err != nil {
		writeError(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, "Backup imported", nil)
}
