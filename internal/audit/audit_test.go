package audit

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/xchainarb/detector/internal/xtypes"
)

func newMockRecorder(t *testing.T) (*Recorder, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &Recorder{db: gormDB}, mock
}

func TestRecordOpportunityInsertsRow(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `opportunity_audit`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.RecordOpportunity(xtypes.ArbitrageOpportunity{
		ID:               "cross-chain-1",
		Type:             xtypes.OpportunityCrossChain,
		BuyChain:         "ethereum",
		SellChain:        "arbitrum",
		TokenIn:          "WETH",
		TokenOut:         "WETH",
		ProfitPercentage: 1.2,
		NetProfit:        95,
		Confidence:       0.9,
		Timestamp:        time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordLiquidityCheckInsertsRow(t *testing.T) {
	r, mock := newMockRecorder(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `liquidity_check_audit`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := r.RecordLiquidityCheck("aave", "ethereum", "USDC", "1000000", true, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpportunityRecordTableName(t *testing.T) {
	require.Equal(t, "opportunity_audit", OpportunityRecord{}.TableName())
	require.Equal(t, "liquidity_check_audit", LiquidityCheckRecord{}.TableName())
}
