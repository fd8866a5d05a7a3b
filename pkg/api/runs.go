package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/forgeplatform/forge/pkg/agent"
	"github.com/forgeplatform/forge/pkg/apierr"
)

type createRunRequest struct {
	UserID             string `json:"userId" binding:"required"`
	ChatID             string `json:"chatId" binding:"required"`
	UserMessageID      string `json:"userMessageId" binding:"required"`
	AssistantMessageID string `json:"assistantMessageId" binding:"required"`
	IsNewChat          bool   `json:"isNewChat"`
	Model              string `json:"model" binding:"required"`
	APIKey             string `json:"apiKey" binding:"required"`
	UserRequest        string `json:"userRequest" binding:"required"`
}

// CreateRun implements POST /runs: the client-request entry point to the
// agent loop (spec §2's "a client request carrying a user prompt enters the
// agent loop"). It provisions (or reuses) the chat's sandbox, creates the
// run's log row, and starts the loop in the background — the caller follows
// up with GET /runs/:runId/events to stream progress.
func (s *Server) CreateRun(c *gin.Context) {
	var req createRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindInvalidArgument, err.Error()))
		return
	}
	if s.loop == nil || s.provisioner == nil || s.sandboxes == nil {
		c.Error(apierr.New(apierr.KindInternal, "run creation is not wired in this deployment"))
		return
	}

	ctx := c.Request.Context()

	sandboxID, err := s.provisioner.Provision(ctx, req.UserID, req.ChatID)
	if err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "provision sandbox", err))
		return
	}

	sb, err := s.sandboxes.Get(ctx, sandboxID)
	if err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "load provisioned sandbox", err))
		return
	}
	if sb == nil {
		c.Error(apierr.New(apierr.KindInternal, "sandbox vanished immediately after provisioning"))
		return
	}

	runID := uuid.NewString()
	if err := s.runs.CreateRun(ctx, runID, req.UserID, sandboxID); err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "create run", err))
		return
	}

	runReq := agent.RunRequest{
		RunID:              runID,
		ChatID:             req.ChatID,
		UserID:             req.UserID,
		UserMessageID:      req.UserMessageID,
		AssistantMessageID: req.AssistantMessageID,
		IsNewChat:          req.IsNewChat,
		Model:              req.Model,
		APIKey:             req.APIKey,
		UserRequest:        req.UserRequest,
		Sandbox: agent.SandboxContext{
			SandboxID:   sandboxID,
			ContainerID: sb.ContainerID,
			Workdir:     s.workspaceDir,
		},
	}
	go s.runInBackground(runReq)

	c.JSON(http.StatusAccepted, gin.H{"runId": runID, "sandboxId": sandboxID})
}

// runInBackground executes req's agent loop outside the request's lifetime
// and records the run's terminal status once it stops. Detached from the
// request context deliberately — a client disconnecting from the HTTP
// response must not cancel a run already in flight; GET /runs/:runId/events
// is how a client re-attaches to it.
func (s *Server) runInBackground(req agent.RunRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), agent.MaxStreamDuration+time.Minute)
	defer cancel()

	outcome := s.loop.Run(ctx, req)

	status := "completed"
	if outcome.Err != nil || outcome.StopReason == agent.StopError || outcome.StopReason == agent.StopCancelled {
		status = "failed"
	}
	if err := s.runs.SetStatus(context.Background(), req.RunID, status); err != nil {
		slog.Warn("failed to record run status", "run_id", req.RunID, "status", status, "error", err)
	}
}
