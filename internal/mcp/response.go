package mcp

import (
	"encoding/json"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Metadata rides on every tool response.
type Metadata struct {
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	Timestamp       string `json:"timestamp"`
	WorkspaceRoot   string `json:"workspace_root"`
}

// Pagination describes a truncated result set.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// envelope is the uniform tool response shape: success with data, or
// failure with a message, always with timing metadata.
type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Metadata   Metadata    `json:"metadata"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

func (s *Server) metadata(started time.Time) Metadata {
	return Metadata{
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		WorkspaceRoot:   s.cfg.Project.Root,
	}
}

// success wraps data in the response envelope.
func (s *Server) success(started time.Time, data any) (*sdk.CallToolResult, error) {
	return s.successPaged(started, data, nil)
}

// successPaged wraps data with pagination info attached.
func (s *Server) successPaged(started time.Time, data any, page *Pagination) (*sdk.CallToolResult, error) {
	return marshalResult(envelope{
		Success:    true,
		Data:       data,
		Metadata:   s.metadata(started),
		Pagination: page,
	}, false)
}

// failure wraps an error in the envelope and flags the result. Tool-level
// errors come back as data, not protocol errors, so clients always get the
// envelope.
func (s *Server) failure(started time.Time, err error) (*sdk.CallToolResult, error) {
	return marshalResult(envelope{
		Success:  false,
		Error:    err.Error(),
		Metadata: s.metadata(started),
	}, true)
}

func marshalResult(env envelope, isError bool) (*sdk.CallToolResult, error) {
	payload, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	return &sdk.CallToolResult{
		Content: []sdk.Content{&sdk.TextContent{Text: string(payload)}},
		IsError: isError,
	}, nil
}

// paginate slices a string list and reports whether more remains.
func paginate(items []string, offset, limit int) ([]string, *Pagination) {
	total := len(items)
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := &Pagination{Offset: offset, Limit: limit, Total: total, HasMore: end < total}
	return items[offset:end], page
}
