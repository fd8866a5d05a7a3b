package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgeplatform/forge/pkg/apierr"
)

type resolvePackagesRequest struct {
	Names []string `json:"names" binding:"required"`
}

// ResolvePackages implements POST /packages/resolve (spec §4.15): validate a
// requested package list against the registry, expanding peer dependencies
// and reporting version conflicts.
func (s *Server) ResolvePackages(c *gin.Context) {
	var req resolvePackagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apierr.New(apierr.KindInvalidArgument, err.Error()))
		return
	}
	if s.registry == nil {
		c.Error(apierr.New(apierr.KindInternal, "package resolution is not wired in this deployment"))
		return
	}

	result := s.registry.Resolve(c.Request.Context(), req.Names)
	c.JSON(http.StatusOK, gin.H{
		"valid":     result.Valid,
		"invalid":   result.Invalid,
		"conflicts": result.Conflicts,
	})
}
