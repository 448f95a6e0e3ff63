package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
)

type checkAllowanceRequest struct {
	Resource string `json:"resource"`
	Quantity int64  `json:"quantity"`
}

type subscribeRequest struct {
	PlanID   string `json:"plan_id"`
	Timezone string `json:"timezone"`
}

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (s *Server) HasModule(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	module := strings.TrimSpace(c.Param("module"))
	enabled, err := s.entitlementSvc.HasModule(c.Request.Context(), tenantID, module)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"module": module, "enabled": enabled})
}

func (s *Server) CheckAllowance(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req checkAllowanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	resource, err := entitlementdomain.ParseResource(req.Resource)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.entitlementSvc.CheckAllowance(c.Request.Context(), tenantID, resource, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) Subscribe(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	sub, err := s.entitlementSvc.Subscribe(c.Request.Context(), entitlementdomain.SubscribeRequest{
		TenantID: tenantID,
		PlanID:   req.PlanID,
		Timezone: req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// ChangePlan moves the tenant to another plan and answers with the modules
// to switch on and off.
func (s *Server) ChangePlan(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	diff, err := s.entitlementSvc.ApplyPlanChange(c.Request.Context(), tenantID, req.PlanID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, diff)
}

func (s *Server) ListPlanChanges(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	changes, err := s.entitlementSvc.ListPlanChanges(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan_changes": changes})
}

func (s *Server) UpsertPlan(c *gin.Context) {
	var req entitlementdomain.UpsertPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	plan, err := s.entitlementSvc.UpsertPlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.entitlementSvc.GetPlan(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}
