// Package mcpserver exposes the scheduler and credential control
// operations as MCP tools, so an agent can schedule and inspect jobs.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/cadence/internal/credential"
	"github.com/flemzord/cadence/internal/job"
	"github.com/flemzord/cadence/internal/security"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Jobs is the scheduler surface the tools drive.
type Jobs interface {
	Schedule(ctx context.Context, req job.Request) (job.Job, error)
	Cancel(ctx context.Context, id string) (job.Job, error)
	Status(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, f job.Filter) ([]job.Job, error)
}

// Tokens is the credential surface the tools drive.
type Tokens interface {
	TokenStatus(ctx context.Context, ownerID string) ([]credential.TokenStatus, error)
	RefreshOwner(ctx context.Context, ownerID, platform string) ([]credential.Outcome, error)
}

// Compile-time interface checks.
var (
	_ Jobs   = (*job.Scheduler)(nil)
	_ Tokens = (*credential.Coordinator)(nil)
)

// Options configures a Server.
type Options struct {
	Version string
	Payload security.PayloadLimits
	Logger  *slog.Logger
}

// Server holds the tool handlers.
type Server struct {
	jobs    Jobs
	tokens  Tokens
	payload security.PayloadLimits
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// New builds a Server with every tool registered.
func New(jobs Jobs, tokens Tokens, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	s := &Server{
		jobs:    jobs,
		tokens:  tokens,
		payload: opts.Payload,
		logger:  opts.Logger,
		mcp:     server.NewMCPServer("cadence", opts.Version, server.WithToolCapabilities(false)),
	}
	s.register()
	return s
}

// MCP returns the underlying server.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio serves the tools on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) register() {
	types := make([]string, len(job.Types))
	for i, t := range job.Types {
		types[i] = string(t)
	}

	s.mcp.AddTool(mcp.NewTool("schedule_job",
		mcp.WithDescription("Schedule a one-shot job to run at fire_time."),
		mcp.WithString("job_type", mcp.Required(), mcp.Enum(types...)),
		mcp.WithString("owner_id", mcp.Required()),
		mcp.WithString("fire_time", mcp.Required(), mcp.Description("RFC 3339 timestamp in the future")),
		mcp.WithObject("payload", mcp.Description("Handler-specific JSON payload")),
		mcp.WithNumber("max_attempts", mcp.Description("Defaults to the scheduler setting")),
	), s.scheduleJob)

	s.mcp.AddTool(mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a pending job."),
		mcp.WithString("job_id", mcp.Required()),
	), s.cancelJob)

	s.mcp.AddTool(mcp.NewTool("job_status",
		mcp.WithDescription("Return a job record."),
		mcp.WithString("job_id", mcp.Required()),
	), s.jobStatus)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List an owner's jobs, optionally filtered."),
		mcp.WithString("owner_id", mcp.Required()),
		mcp.WithString("status", mcp.Enum("pending", "processing", "completed", "failed", "cancelled")),
		mcp.WithString("job_type", mcp.Enum(types...)),
	), s.listJobs)

	s.mcp.AddTool(mcp.NewTool("token_status",
		mcp.WithDescription("Summarize token expiry for an owner's connected accounts."),
		mcp.WithString("owner_id", mcp.Required()),
	), s.tokenStatus)

	s.mcp.AddTool(mcp.NewTool("refresh_tokens",
		mcp.WithDescription("Force-refresh an owner's tokens, optionally for one platform."),
		mcp.WithString("owner_id", mcp.Required()),
		mcp.WithString("platform"),
	), s.refreshTokens)
}

func (s *Server) scheduleJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("job_type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fire, err := req.RequireString("fire_time")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fireTime, err := time.Parse(time.RFC3339, fire)
	if err != nil {
		return mcp.NewToolResultError("fire_time must be RFC 3339: " + err.Error()), nil
	}
	jobType, err := job.ParseType(typ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var payload json.RawMessage
	if p, ok := req.GetArguments()["payload"]; ok && p != nil {
		payload, err = json.Marshal(p)
		if err != nil {
			return mcp.NewToolResultError("payload: " + err.Error()), nil
		}
		if err := s.payload.Validate(payload); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	j, err := s.jobs.Schedule(ctx, job.Request{
		Type:        jobType,
		OwnerID:     owner,
		Payload:     payload,
		FireTime:    fireTime,
		MaxAttempts: req.GetInt("max_attempts", 0),
	})
	if err != nil {
		return s.failure("schedule_job", err)
	}
	return jsonResult(j)
}

func (s *Server) cancelJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	j, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return s.failure("cancel_job", err)
	}
	return jsonResult(j)
}

func (s *Server) jobStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	j, err := s.jobs.Status(ctx, id)
	if err != nil {
		return s.failure("job_status", err)
	}
	return jsonResult(j)
}

func (s *Server) listJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f := job.Filter{OwnerID: owner}
	if st := req.GetString("status", ""); st != "" {
		if f.Status, err = job.ParseStatus(st); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if t := req.GetString("job_type", ""); t != "" {
		if f.Type, err = job.ParseType(t); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	jobs, err := s.jobs.List(ctx, f)
	if err != nil {
		return s.failure("list_jobs", err)
	}
	if jobs == nil {
		jobs = []job.Job{}
	}
	return jsonResult(jobs)
}

func (s *Server) tokenStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := s.tokens.TokenStatus(ctx, owner)
	if err != nil {
		return s.failure("token_status", err)
	}
	return jsonResult(st)
}

func (s *Server) refreshTokens(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := req.RequireString("owner_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.tokens.RefreshOwner(ctx, owner, req.GetString("platform", ""))
	if err != nil {
		return s.failure("refresh_tokens", err)
	}
	return jsonResult(out)
}

// failure turns a domain error into a tool error the agent can read.
// Storage faults are logged and reported as an MCP protocol error.
func (s *Server) failure(tool string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, job.ErrInvalid),
		errors.Is(err, job.ErrUnknownType),
		errors.Is(err, job.ErrPastFireTime),
		errors.Is(err, job.ErrNotFound),
		errors.Is(err, job.ErrNotFoundOrTerminal),
		errors.Is(err, credential.ErrNotFound):
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.logger.Error("mcp: tool failed", "tool", tool, "error", err)
	return nil, fmt.Errorf("%s: %w", tool, err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
