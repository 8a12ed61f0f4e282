package registry

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/navflow-api/pkg/response"
)

// Service exposes the fund/position registry to the valuation subsystem and
// to fund administrators.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: NewDatabase(gormDB)}
}

// GetDB exposes the database wrapper for collaborating services.
func (s *Service) GetDB() *Database {
	return s.db
}

func (s *Service) GetFund(fundID string) (*Fund, error) {
	return s.db.GetFund(fundID)
}

func (s *Service) GetActiveFunds() ([]Fund, error) {
	return s.db.GetActiveFunds()
}

func (s *Service) GetActiveShareClasses(fundID string) ([]ShareClass, error) {
	return s.db.GetActiveShareClasses(fundID)
}

func (s *Service) GetShareClass(shareClassID string) (*ShareClass, error) {
	return s.db.GetShareClass(shareClassID)
}

func (s *Service) GetFundConfig(fundID string) (*FundConfig, error) {
	return s.db.GetFundConfig(fundID)
}

func (s *Service) GetPositions(fundID string, asOf time.Time) ([]Position, error) {
	return s.db.GetPositions(fundID, asOf)
}

func (s *Service) GetCashAccounts(fundID string, asOf time.Time) ([]CashAccount, error) {
	return s.db.GetCashAccounts(fundID, asOf)
}

func (s *Service) SumHoldings(shareClassID string) (decimal.Decimal, error) {
	return s.db.SumHoldings(shareClassID)
}

func (s *Service) GetPendingRedemptions(shareClassID string, valueDate time.Time) ([]RedemptionRequest, error) {
	return s.db.GetPendingRedemptions(shareClassID, valueDate)
}

func (s *Service) GetLatestNAV(shareClassID string) (*ShareClassNAV, error) {
	return s.db.GetLatestNAV(shareClassID)
}

// PublishLatestNAV upserts the share class's latest official NAV.
func (s *Service) PublishLatestNAV(nav *ShareClassNAV) error {
	log.Info().
		Str("service", "registry").
		Str("share_class_id", nav.ShareClassID).
		Str("nav_per_share", nav.NAVPerShare.String()).
		Str("valuation_date", nav.ValuationDate.Format("2006-01-02")).
		Msg("publishing latest NAV for share class")
	return s.db.UpsertLatestNAV(nav)
}

// SaveFundConfig creates or replaces a fund's configuration.
func (s *Service) SaveFundConfig(cfg *FundConfig) error {
	log.Info().
		Str("service", "registry").
		Str("fund_id", cfg.FundID).
		Str("performance_fee_policy", cfg.PerformanceFeePolicy).
		Msg("saving fund config")
	return s.db.SaveFundConfig(cfg)
}

// GinHandlers contains HTTP handlers for fund administration endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetFundConfigHandler handles GET requests for a fund's configuration.
// URL parameter: fund_id
func (h *GinHandlers) GetFundConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fundID := c.Param("fund_id")

		cfg, err := h.service.GetFundConfig(fundID)
		response.Handle(c, cfg, err)
	}
}

// SaveFundConfigHandler handles PUT requests to create or replace a fund's
// configuration. Requires internal authentication.
func (h *GinHandlers) SaveFundConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		fundID := c.Param("fund_id")

		var cfg FundConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		cfg.FundID = fundID

		if err := h.service.SaveFundConfig(&cfg); err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, cfg)
	}
}

// GetLatestNAVHandler handles GET requests for a share class's latest
// published NAV. URL parameter: share_class_id
func (h *GinHandlers) GetLatestNAVHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		shareClassID := c.Param("share_class_id")

		nav, err := h.service.GetLatestNAV(shareClassID)
		if err == nil && nav == nil {
			response.NotFound(c, "No published NAV for share class")
			return
		}
		response.Handle(c, nav, err)
	}
}
