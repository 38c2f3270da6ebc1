package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"dcaladder/internal/models"
	"dcaladder/internal/service"
)

// ownerHeader carries the caller identity. Auth proper sits in front of this
// service; here the header is trusted as-is.
const ownerHeader = "X-Owner-ID"

type PlanHandler struct {
	Plans     *service.PlanService
	Status    *service.StatusService
	Lifecycle *service.LifecycleService
	Executor  *service.ExecutorService
}

func (h *PlanHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/plans")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/execute", h.execute)
	g.POST("/:id/cancel", h.cancel)

	r.POST("/api/v1/steps/fill", h.fill)
}

type createPlanRequest struct {
	Symbol       string  `json:"symbol" binding:"required"`
	Market       string  `json:"market"`
	TotalAmount  string  `json:"total_amount" binding:"required"`
	SplitCount   int     `json:"splits" binding:"required"`
	Strategy     string  `json:"strategy" binding:"required"`
	DryRun       *bool   `json:"dry_run"`
	ExecuteSteps []int   `json:"execute_steps"`
}

func (h *PlanHandler) create(c *gin.Context) {
	if h.Plans == nil {
		Error(c, http.StatusInternalServerError, "plan service unavailable", nil)
		return
	}
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	total, err := decimal.NewFromString(strings.TrimSpace(req.TotalAmount))
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid total_amount", nil)
		return
	}

	in := service.CreatePlanInput{
		OwnerID:      owner(c),
		Symbol:       strings.TrimSpace(req.Symbol),
		Market:       models.MarketClass(req.Market),
		TotalAmount:  total,
		SplitCount:   req.SplitCount,
		Strategy:     models.PlanStrategy(req.Strategy),
		DryRun:       req.DryRun,
		ExecuteSteps: req.ExecuteSteps,
	}
	result, err := h.Plans.CreatePlan(c.Request.Context(), in)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	status := http.StatusOK
	if !result.Success && result.PlanID == 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}

func (h *PlanHandler) list(c *gin.Context) {
	if h.Status == nil {
		Error(c, http.StatusInternalServerError, "status service unavailable", nil)
		return
	}
	q := service.StatusQuery{
		OwnerID: owner(c),
		Symbol:  strings.TrimSpace(c.Query("symbol")),
		Status:  strings.TrimSpace(c.Query("status")),
		Limit:   intQuery(c, "limit", 0),
	}
	result, err := h.Status.Query(c.Request.Context(), q)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, result)
}

func (h *PlanHandler) get(c *gin.Context) {
	if h.Status == nil {
		Error(c, http.StatusInternalServerError, "status service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	result, err := h.Status.Query(c.Request.Context(), service.StatusQuery{
		OwnerID: owner(c),
		PlanID:  &id,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if len(result.Plans) == 0 {
		Error(c, http.StatusNotFound, "plan not found", nil)
		return
	}
	c.JSON(http.StatusOK, result)
}

type executeRequest struct {
	Steps []int `json:"steps"`
}

func (h *PlanHandler) execute(c *gin.Context) {
	if h.Executor == nil {
		Error(c, http.StatusServiceUnavailable, "executor disabled, set executor.mode to live", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	plan, err := h.Executor.Repo.GetPlanByID(c.Request.Context(), id, owner(c))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if plan == nil {
		Error(c, http.StatusNotFound, "plan not found", nil)
		return
	}
	if plan.Status != models.PlanActive {
		Error(c, http.StatusConflict, "plan is "+string(plan.Status), nil)
		return
	}

	report, err := h.Executor.Execute(c.Request.Context(), plan, req.Steps)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *PlanHandler) cancel(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusInternalServerError, "lifecycle service unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	plan, err := h.Lifecycle.CancelPlan(c.Request.Context(), id, owner(c))
	if err != nil {
		var invalid *service.InvalidTransitionError
		if errors.As(err, &invalid) {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if plan == nil {
		Error(c, http.StatusNotFound, "plan not found", nil)
		return
	}
	Ok(c, plan, nil)
}

type fillRequest struct {
	BrokerOrderID string  `json:"broker_order_id" binding:"required"`
	FilledPrice   string  `json:"filled_price" binding:"required"`
	FilledQty     string  `json:"filled_quantity" binding:"required"`
	FilledAmount  *string `json:"filled_amount"`
	Partial       bool    `json:"partial"`
}

// fill lets an external fill-ingestion process report an execution against a
// broker order id.
func (h *PlanHandler) fill(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusInternalServerError, "lifecycle service unavailable", nil)
		return
	}
	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	price, err := decimal.NewFromString(req.FilledPrice)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid filled_price", nil)
		return
	}
	qty, err := decimal.NewFromString(req.FilledQty)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid filled_quantity", nil)
		return
	}
	var amount *decimal.Decimal
	if req.FilledAmount != nil {
		a, err := decimal.NewFromString(*req.FilledAmount)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid filled_amount", nil)
			return
		}
		amount = &a
	}

	step, _, err := h.Lifecycle.FindStepByOrderID(c.Request.Context(), req.BrokerOrderID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if step == nil {
		Error(c, http.StatusNotFound, "no step for order "+req.BrokerOrderID, nil)
		return
	}
	if err := h.Lifecycle.MarkStepFilled(c.Request.Context(), step.ID, price, qty, amount, req.Partial); err != nil {
		var invalid *service.InvalidTransitionError
		if errors.As(err, &invalid) {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"step_id": step.ID, "plan_id": step.PlanID}, nil)
}

func owner(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(ownerHeader))
}

func intQuery(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func uint64Param(c *gin.Context, key string) uint64 {
	v := strings.TrimSpace(c.Param(key))
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
