// Package audit persists published opportunities and liquidity-check
// outcomes for after-the-fact review: a GORM-over-MySQL recorder carrying
// the cross-chain detection pipeline's own records.
package audit

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xchainarb/detector/internal/xtypes"
)

// OpportunityRecord is the database row for one published
// ArbitrageOpportunity, amounts stored as decimal strings matching the
// bus wire-shape convention.
type OpportunityRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	OpportunityID    string    `gorm:"index;not null"`
	Type             string    `gorm:"not null"`
	BuyChain         string    `gorm:"not null"`
	SellChain        string    `gorm:"not null"`
	TokenIn          string    `gorm:"not null"`
	TokenOut         string    `gorm:"not null"`
	ProfitPercentage float64   `gorm:"not null"`
	NetProfit        float64   `gorm:"not null"`
	Confidence       float64   `gorm:"not null"`
	WhaleTriggered   bool      `gorm:"not null"`
	Source           string    `gorm:"not null"`
	Timestamp        time.Time `gorm:"index;not null"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (OpportunityRecord) TableName() string { return "opportunity_audit" }

// LiquidityCheckRecord is the database row for one C4 liquidity check,
// recorded for later analysis of false-graceful-true rates.
type LiquidityCheckRecord struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Protocol  string    `gorm:"not null"`
	Chain     string    `gorm:"not null"`
	Asset     string    `gorm:"not null"`
	Available string    `gorm:"type:varchar(78);not null;comment:big.Int as string"`
	Sufficient bool     `gorm:"not null"`
	Graceful  bool      `gorm:"not null;comment:true if the check degraded to graceful-true"`
	Timestamp time.Time `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (LiquidityCheckRecord) TableName() string { return "liquidity_check_audit" }

// Recorder persists pipeline audit rows via GORM.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder opens a MySQL connection and auto-migrates the audit
// schema. dsn format: "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: failed to connect: %w", err)
	}
	if err := db.AutoMigrate(&OpportunityRecord{}, &LiquidityCheckRecord{}); err != nil {
		return nil, fmt.Errorf("audit: failed to migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// NewRecorderWithDB wraps an existing GORM connection, auto-migrating the
// audit schema onto it. Used by tests to inject a sqlmock-backed *gorm.DB.
func NewRecorderWithDB(db *gorm.DB) (*Recorder, error) {
	if err := db.AutoMigrate(&OpportunityRecord{}, &LiquidityCheckRecord{}); err != nil {
		return nil, fmt.Errorf("audit: failed to migrate schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// RecordOpportunity persists a published opportunity, non-blocking from
// the caller's perspective is the publisher's responsibility (it should
// call this in a goroutine or drop it on backpressure); this method itself
// is a single synchronous insert.
func (r *Recorder) RecordOpportunity(op xtypes.ArbitrageOpportunity) error {
	record := OpportunityRecord{
		OpportunityID:    op.ID,
		Type:             string(op.Type),
		BuyChain:         op.BuyChain,
		SellChain:        op.SellChain,
		TokenIn:          op.TokenIn,
		TokenOut:         op.TokenOut,
		ProfitPercentage: op.ProfitPercentage,
		NetProfit:        op.NetProfit,
		Confidence:       op.Confidence,
		WhaleTriggered:   op.WhaleTriggered,
		Source:           op.Source,
		Timestamp:        op.Timestamp,
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("audit: failed to record opportunity: %w", result.Error)
	}
	return nil
}

// RecordLiquidityCheck persists one C4 liquidity-check outcome.
func (r *Recorder) RecordLiquidityCheck(protocol, chain, asset, available string, sufficient, graceful bool) error {
	record := LiquidityCheckRecord{
		Protocol:   protocol,
		Chain:      chain,
		Asset:      asset,
		Available:  available,
		Sufficient: sufficient,
		Graceful:   graceful,
		Timestamp:  time.Now(),
	}
	if result := r.db.Create(&record); result.Error != nil {
		return fmt.Errorf("audit: failed to record liquidity check: %w", result.Error)
	}
	return nil
}

// CountOpportunities returns the total number of audited opportunities.
func (r *Recorder) CountOpportunities() (int64, error) {
	var count int64
	if result := r.db.Model(&OpportunityRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("audit: failed to count opportunities: %w", result.Error)
	}
	return count, nil
}

// Close closes the underlying database connection.
func (r *Recorder) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("audit: failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
