package api

import (
	"github.com/samcharles93/tuner/internal/infer"
	"github.com/samcharles93/tuner/internal/task"
)

// ResultsRequest is the body of POST /v1/results.
type ResultsRequest struct {
	Records []task.Record       `json:"records"`
	Params  *infer.ParamsOptions `json:"params,omitempty"`
}

// ResultsResponse is the submission document plus the id it is stored
// under.
type ResultsResponse struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Result    infer.ResultSet `json:"result"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
