package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/loopdeck/loopdeck/internal/buildinfo"
	"github.com/loopdeck/loopdeck/internal/loop"
)

// startRequest is the body of POST /api/projects/:project/loops. Zero
// max_turns means the configured default.
type startRequest struct {
	TaskDescription string `json:"task_description"`
	MaxTurns        int    `json:"max_turns"`
	WorkerModel     string `json:"worker_model"`
	ReviewerModel   string `json:"reviewer_model"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": buildinfo.GetInfo().Version,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	taskID, err := s.ctrl.Start(c.Param("project"), loop.Config{
		MaxTurns:        req.MaxTurns,
		TaskDescription: req.TaskDescription,
		WorkerModel:     req.WorkerModel,
		ReviewerModel:   req.ReviewerModel,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
}

func (s *Server) handleStatus(c *gin.Context) {
	task, err := s.ctrl.Status(c.Param("project"), c.Param("task"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleHistory(c *gin.Context) {
	tasks, err := s.ctrl.History(c.Param("project"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handlePause(c *gin.Context) {
	s.lifecycle(c, s.ctrl.Pause)
}

func (s *Server) handleResume(c *gin.Context) {
	s.lifecycle(c, s.ctrl.Resume)
}

func (s *Server) handleStop(c *gin.Context) {
	s.lifecycle(c, s.ctrl.Stop)
}

func (s *Server) handleDelete(c *gin.Context) {
	if err := s.ctrl.Delete(c.Param("project"), c.Param("task")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lifecycle(c *gin.Context, op func(projectID, taskID string) error) {
	if err := op(c.Param("project"), c.Param("task")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// fail maps controller errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, loop.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, loop.ErrAlreadyRunning), errors.Is(err, loop.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, loop.ErrInvalidConfig):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
