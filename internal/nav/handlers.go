package nav

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/navflow-api/pkg/response"
)

// RunDailyNAVWithIdempotency executes a daily run unless an unexpired
// idempotency record already points at one, in which case that run is
// returned unchanged.
func (s *Service) RunDailyNAVWithIdempotency(date time.Time, idempotencyKey string) (*NAVRun, error) {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err == nil && record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetRun(record.ResourceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, errors.New("run referenced by idempotency key not found")
		}
		return existing, nil
	}

	run, err := s.RunDailyNAV(date)
	if err != nil {
		return nil, err
	}

	if err := s.db.CreateIdempotencyRecord(idempotencyKey, run.RunID, "nav_run"); err != nil {
		return nil, err
	}
	return run, nil
}

// GinHandlers contains HTTP handlers for NAV endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for NAV endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CalculateNAVHandler handles POST requests to compute a single
// fund/share-class NAV. The result is persisted as a draft record.
func (h *GinHandlers) CalculateNAVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			FundID        string `json:"fund_id" binding:"required"`
			ShareClassID  string `json:"share_class_id" binding:"required"`
			ValuationDate string `json:"valuation_date" binding:"required"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		date, err := time.Parse("2006-01-02", request.ValuationDate)
		if err != nil {
			response.BadRequest(c, "valuation_date must be YYYY-MM-DD")
			return
		}

		result, err := h.service.CalculateNAV(request.FundID, request.ShareClassID, date)
		response.Handle(c, result, err)
	}
}

// GetNAVHandler returns the stored record for a fund/share-class/date key.
// URL parameters: fund_id, share_class_id, date (YYYY-MM-DD)
func (h *GinHandlers) GetNAVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := time.Parse("2006-01-02", c.Param("date"))
		if err != nil {
			response.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}

		record, err := h.service.GetRecord(c.Param("fund_id"), c.Param("share_class_id"), date)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if record == nil {
			response.NotFound(c, "NAV record not found")
			return
		}

		response.Success(c, record)
	}
}

// GetNAVTransitionsHandler returns the append-only status history of a record.
func (h *GinHandlers) GetNAVTransitionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		navID := c.Param("nav_id")

		record, err := h.service.db.GetRecordByNAVID(navID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if record == nil {
			response.NotFound(c, "NAV record not found")
			return
		}

		transitions, err := h.service.db.GetTransitions(navID)
		response.Handle(c, transitions, err)
	}
}

// GetRunHandler returns a run with its per-class results.
func (h *GinHandlers) GetRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := h.service.GetRun(c.Param("run_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if run == nil {
			response.NotFound(c, "NAV run not found")
			return
		}

		response.Success(c, run)
	}
}

// RunDailyNAVHandler handles internal POST requests to execute the daily
// batch. Requires internal authentication and an Idempotency-Key header.
func (h *GinHandlers) RunDailyNAVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		idempotencyKey := c.GetHeader("Idempotency-Key")
		if idempotencyKey == "" {
			response.BadRequest(c, "Idempotency-Key header is required")
			return
		}

		var request struct {
			ValuationDate string `json:"valuation_date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		date, err := time.Parse("2006-01-02", request.ValuationDate)
		if err != nil {
			response.BadRequest(c, "valuation_date must be YYYY-MM-DD")
			return
		}

		run, err := h.service.RunDailyNAVWithIdempotency(date, idempotencyKey)
		response.Handle(c, run, err)
	}
}

// RetryRunHandler handles internal POST requests to re-run a failed date.
func (h *GinHandlers) RetryRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := time.Parse("2006-01-02", c.Param("date"))
		if err != nil {
			response.BadRequest(c, "date must be YYYY-MM-DD")
			return
		}

		run, err := h.service.RetryRun(date)
		response.Handle(c, run, err)
	}
}

// VerifyNAVHandler recomputes a NAV and diffs it against the stored record.
func (h *GinHandlers) VerifyNAVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			FundID        string `json:"fund_id" binding:"required"`
			ShareClassID  string `json:"share_class_id" binding:"required"`
			ValuationDate string `json:"valuation_date" binding:"required"`
			TolerancePct  string `json:"tolerance_pct"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		date, err := time.Parse("2006-01-02", request.ValuationDate)
		if err != nil {
			response.BadRequest(c, "valuation_date must be YYYY-MM-DD")
			return
		}

		tolerance := decimal.NewFromFloat(0.01)
		if request.TolerancePct != "" {
			tolerance, err = decimal.NewFromString(request.TolerancePct)
			if err != nil {
				response.BadRequest(c, "tolerance_pct must be a decimal number")
				return
			}
		}

		verification, err := h.service.VerifyNAV(request.FundID, request.ShareClassID, date, tolerance)
		response.Handle(c, verification, err)
	}
}
