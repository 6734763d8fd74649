// Package api serves evaluation results from a loaded model over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/tuner/internal/infer"
	"github.com/samcharles93/tuner/internal/logger"
	"github.com/samcharles93/tuner/internal/task"
)

// Evaluator answers records. *infer.Runner implements it.
type Evaluator interface {
	ResultsWith(ctx context.Context, records []task.Record, opts infer.ParamsOptions) (*infer.Results, error)
}

// Server exposes one Evaluator. Requests are answered one at a time since
// the engine behind it is not safe for concurrent use.
type Server struct {
	mu        sync.Mutex
	eval      Evaluator
	store     *ResultStore
	modelName string
	log       logger.Logger
	clock     func() time.Time
}

type ServerOption func(*Server)

func WithModelName(name string) ServerOption {
	return func(s *Server) { s.modelName = name }
}

func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(eval Evaluator, store *ResultStore, opts ...ServerOption) *Server {
	if store == nil {
		store = NewResultStore(DefaultStoreLimit)
	}
	s := &Server{
		eval:  eval,
		store: store,
		log:   logger.Discard(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/health", s.handleHealth)
	e.POST("/v1/results", s.handleCreateResults)
	e.GET("/v1/results/:id", s.handleGetResults)
	e.DELETE("/v1/results/:id", s.handleDeleteResults)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Model: s.modelName})
}

func (s *Server) handleCreateResults(c *echo.Context) error {
	if s.eval == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "evaluator not configured", "", "")
	}
	req, err := decodeJSON[ResultsRequest](c.Request().Body)
	if err != nil {
		if errors.Is(err, task.ErrUnknownTaskType) {
			return writeBadRequest(c, err.Error(), "records.type")
		}
		return writeBadRequest(c, err.Error(), "")
	}
	if err := validateRequest(req); err != nil {
		return writeBadRequest(c, err.Error(), "records")
	}
	var opts infer.ParamsOptions
	if req.Params != nil {
		opts = *req.Params
	}

	id := newResultID()
	reqID := requestID(c, id)
	log := s.log.With("request_id", reqID, "result_id", id)
	c.Response().Header().Set(headerRequestID, reqID)

	start := s.clock()
	s.mu.Lock()
	res, err := s.eval.ResultsWith(c.Request().Context(), req.Records, opts)
	s.mu.Unlock()
	if err != nil {
		log.Error("results failed", "records", len(req.Records), "error", err)
		switch {
		case errors.Is(err, infer.ErrInvalidParams):
			return writeBadRequest(c, err.Error(), "params")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return writeError(c, http.StatusServiceUnavailable, "server_error", err.Error(), "", "cancelled")
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "", "")
	}
	resp := s.store.Put(id, start.Unix(), res)
	log.Info("results served", "records", len(req.Records), "elapsed", s.clock().Sub(start))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetResults(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, fmt.Sprintf("results %q not found", id))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteResults(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, fmt.Sprintf("results %q not found", id))
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func validateRequest(req ResultsRequest) error {
	if len(req.Records) == 0 {
		return newInvalidRequest("records is required and must not be empty")
	}
	seen := make(map[string]bool, len(req.Records))
	for i, r := range req.Records {
		if err := r.Validate(false); err != nil {
			return newInvalidRequest(fmt.Sprintf("records[%d]: %v", i, err))
		}
		if seen[r.ID] {
			return newInvalidRequest(fmt.Sprintf("records[%d]: duplicate id %q", i, r.ID))
		}
		seen[r.ID] = true
	}
	return nil
}
