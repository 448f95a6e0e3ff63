package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/pkg/tenantctx"
)

type validateCouponRequest struct {
	Code   string          `json:"code"`
	PlanID string          `json:"plan_id"`
	Amount decimal.Decimal `json:"amount"`
}

type redeemCouponRequest struct {
	Code                  string `json:"code"`
	ExternalTransactionID string `json:"external_transaction_id"`
}

func callerFromContext(c *gin.Context) (string, bool) {
	callerID, ok := tenantctx.CallerID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrCallerRequired)
		return "", false
	}
	return callerID, true
}

// ValidateCoupon answers 200 for a usable coupon and 422 with the reason
// otherwise. Nothing is consumed.
func (s *Server) ValidateCoupon(c *gin.Context) {
	callerID, ok := callerFromContext(c)
	if !ok {
		return
	}

	var req validateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.couponSvc.Validate(c.Request.Context(), coupondomain.ValidateRequest{
		Code:     req.Code,
		CallerID: callerID,
		PlanID:   req.PlanID,
		Amount:   req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (s *Server) RedeemCoupon(c *gin.Context) {
	callerID, ok := callerFromContext(c)
	if !ok {
		return
	}

	var req redeemCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	redemption, err := s.couponSvc.Redeem(c.Request.Context(), coupondomain.RedeemRequest{
		Code:                  req.Code,
		CallerID:              callerID,
		ExternalTransactionID: req.ExternalTransactionID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, redemption)
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req coupondomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	coupon, err := s.couponSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, coupon)
}

func (s *Server) GetCoupon(c *gin.Context) {
	coupon, err := s.couponSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, coupon)
}

func (s *Server) ActivateCoupon(c *gin.Context) {
	s.setCouponActive(c, true)
}

func (s *Server) DeactivateCoupon(c *gin.Context) {
	s.setCouponActive(c, false)
}

func (s *Server) setCouponActive(c *gin.Context, active bool) {
	coupon, err := s.couponSvc.SetActive(c.Request.Context(), strings.TrimSpace(c.Param("code")), active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, coupon)
}
