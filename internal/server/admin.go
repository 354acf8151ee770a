package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
)

const maxAdminBody = 1 << 20

func (s *Server) RunReconciliation(c *gin.Context) {
	var req reconciliationdomain.Request
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.BatchSize < 0 {
		AbortWithError(c, newValidationError("batch_size", "invalid_batch_size", "batch_size cannot be negative"))
		return
	}

	report, err := s.reconciliationSvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tagMode(c, string(report.Mode))
	c.JSON(http.StatusOK, report)
}

func (s *Server) RunRecovery(c *gin.Context) {
	req, ok := bindRecoveryRequest(c)
	if !ok {
		return
	}

	report, err := s.recoverySvc.Run(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tagMode(c, string(report.Mode))
	c.JSON(http.StatusOK, report)
}

func (s *Server) DiagnoseRecovery(c *gin.Context) {
	req, ok := bindRecoveryRequest(c)
	if !ok {
		return
	}

	diagnosis, err := s.recoverySvc.Diagnose(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tagMode(c, string(diagnosis.Mode))
	c.JSON(http.StatusOK, diagnosis)
}

func bindRecoveryRequest(c *gin.Context) (recoverydomain.Request, bool) {
	var req recoverydomain.Request
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return req, false
	}
	if req.Limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit cannot be negative"))
		return req, false
	}
	return req, true
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, out any) error {
	if c.Request.Body == nil {
		return nil
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAdminBody)
	if err := c.ShouldBindJSON(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
