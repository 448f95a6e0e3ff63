package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"github.com/smallbiznis/quota/pkg/tenantctx"
)

type recordUsageRequest struct {
	Resource   string    `json:"resource"`
	Quantity   int64     `json:"quantity"`
	OccurredAt time.Time `json:"occurred_at"`
}

type recordUsageResponse struct {
	Period    *usagedomain.BillingPeriod        `json:"period"`
	Allowance entitlementdomain.AllowanceResult `json:"allowance"`
}

func tenantFromContext(c *gin.Context) (string, bool) {
	tenantID, ok := tenantctx.TenantID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrTenantRequired)
		return "", false
	}
	return tenantID, true
}

func (s *Server) GetCurrentUsage(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	usage, err := s.usageSvc.CurrentUsage(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, usage)
}

// RecordUsage checks the allowance before recording. A hard-capped plan
// refuses the record; soft caps record and report the overage. Record
// repeats the hard cap check under the period lock, so concurrent requests
// cannot overshoot it together.
func (s *Server) RecordUsage(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resource, err := entitlementdomain.ParseResource(req.Resource)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	allowance, err := s.entitlementSvc.CheckAllowance(ctx, tenantID, resource, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if allowance.Rejected() {
		AbortWithError(c, &hardCapError{result: allowance})
		return
	}

	period, err := s.usageSvc.Record(ctx, usagedomain.RecordRequest{
		TenantID:       tenantID,
		Resource:       resource,
		Quantity:       req.Quantity,
		OccurredAt:     req.OccurredAt,
		EnforceHardCap: true,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, recordUsageResponse{Period: period, Allowance: allowance})
}

func (s *Server) ListBillingPeriods(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	pageSize := 0
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be a positive integer"))
			return
		}
		pageSize = parsed
	}

	resp, err := s.usageSvc.ListPeriods(c.Request.Context(), usagedomain.ListPeriodsRequest{
		TenantID:  tenantID,
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
