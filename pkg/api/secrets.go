package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgeplatform/forge/pkg/apierr"
)

// userID extracts the caller's identity from the X-User-ID header. The
// secret routes have no session/auth layer of their own (spec §1 models
// auth as an external collaborator) — a reverse proxy terminating real
// auth is expected to set this header before requests reach forge.
func userID(c *gin.Context) (string, bool) {
	id := c.GetHeader("X-User-ID")
	return id, id != ""
}

type putSecretRequest struct {
	Value string `json:"value" binding:"required"`
}

// PutSecret implements PUT /secrets/:name: upsert an encrypted secret value
// for the calling user.
func (s *Server) PutSecret(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.Error(apierr.New(apierr.KindUnauthorized, "missing X-User-ID"))
		return
	}
	if s.secrets == nil {
		c.Error(apierr.New(apierr.KindInternal, "secret storage is not wired in this deployment"))
		return
	}

	var req putSecretRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindInvalidArgument, err.Error()))
		return
	}

	if err := s.secrets.Put(c.Request.Context(), uid, c.Param("name"), req.Value); err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "store secret", err))
		return
	}
	c.Status(http.StatusNoContent)
}

// GetSecret implements GET /secrets/:name. It reports only whether a secret
// exists, never its decrypted value — secrets are write-only over this API
// once stored, so a compromised read path can't exfiltrate them in bulk.
func (s *Server) GetSecret(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.Error(apierr.New(apierr.KindUnauthorized, "missing X-User-ID"))
		return
	}
	if s.secrets == nil {
		c.Error(apierr.New(apierr.KindInternal, "secret storage is not wired in this deployment"))
		return
	}

	_, exists, err := s.secrets.Get(c.Request.Context(), uid, c.Param("name"))
	if err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "load secret", err))
		return
	}
	if !exists {
		c.Error(apierr.New(apierr.KindNotFound, "no such secret"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "exists": true})
}

// DeleteSecret implements DELETE /secrets/:name.
func (s *Server) DeleteSecret(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		c.Error(apierr.New(apierr.KindUnauthorized, "missing X-User-ID"))
		return
	}
	if s.secrets == nil {
		c.Error(apierr.New(apierr.KindInternal, "secret storage is not wired in this deployment"))
		return
	}

	if err := s.secrets.Delete(c.Request.Context(), uid, c.Param("name")); err != nil {
		c.Error(apierr.Wrap(apierr.KindInternal, "delete secret", err))
		return
	}
	c.Status(http.StatusNoContent)
}
