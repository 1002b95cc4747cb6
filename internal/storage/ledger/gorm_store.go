package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"
)

// DefaultDBPath sqlite database used when no path is configured.
const DefaultDBPath = "./data/ledger.db"

// ledgerRow maps to the 'decision_ledger' table.
type ledgerRow struct {
	ID                  uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Timestamp           int64          `gorm:"column:timestamp;not null;index:idx_ledger_instrument_ts,priority:2"`
	Instrument          string         `gorm:"column:instrument;not null;index:idx_ledger_instrument_ts,priority:1"`
	CycleID             string         `gorm:"column:cycle_id"`
	Model               string         `gorm:"column:model"`
	Action              string         `gorm:"column:action;not null"`
	Intensity           string         `gorm:"column:intensity;type:TEXT"`
	Rationale           string         `gorm:"column:rationale;type:TEXT"`
	PositionQuantity    string         `gorm:"column:position_quantity;type:TEXT"`
	CashBalance         string         `gorm:"column:cash_balance;type:TEXT"`
	AvgAcquisitionPrice string         `gorm:"column:avg_acquisition_price;type:TEXT"`
	MarketPrice         string         `gorm:"column:market_price;type:TEXT"`
	NoOp                string         `gorm:"column:noop"`
	Outcome             datatypes.JSON `gorm:"column:outcome_json;type:TEXT"`
}

func (ledgerRow) TableName() string { return "decision_ledger" }

// GormStore ledger backed by sqlite through gorm.
type GormStore struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewGormStore opens (and migrates) the sqlite database at path.
func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger db dir")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// modernc registers the pure Go driver as "sqlite".
	dialector := sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: dsn})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open ledger db")
	}
	return NewGormStoreFromDB(db)
}

// NewGormStoreFromDB uses an already opened connection.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if err := db.AutoMigrate(&ledgerRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger table")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &GormStore{db: db}, nil
}

// Append inserts one row.
func (s *GormStore) Append(entry domain.LedgerEntry) (domain.LedgerRecord, error) {
	if s == nil || s.db == nil {
		return domain.LedgerRecord{}, errNotInitialized
	}
	if entry.Instrument == "" {
		return domain.LedgerRecord{}, errors.New("ledger entry instrument is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var last ledgerRow
	res := s.db.Where("instrument = ?", entry.Instrument).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&last)
	if res.Error != nil {
		return domain.LedgerRecord{}, errors.Wrap(res.Error, "read last ledger timestamp")
	}
	var lastTs int64
	if res.RowsAffected > 0 {
		lastTs = last.Timestamp
	}
	entry.Timestamp = time.UnixMilli(nextTimestamp(lastTs, domain.NormalizeLedgerTime(entry.Timestamp).UnixMilli())).UTC()

	row, err := toRow(entry)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	if err := s.db.Create(&row).Error; err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "insert ledger entry")
	}
	return domain.LedgerRecord{Index: row.ID, Entry: entry}, nil
}

// Recent returns up to n newest entries for instrument, newest first.
func (s *GormStore) Recent(instrument string, n int) ([]domain.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, errNotInitialized
	}
	if n <= 0 {
		return nil, nil
	}

	var rows []ledgerRow
	if err := s.db.Where("instrument = ?", instrument).
		Order("timestamp DESC, id DESC").
		Limit(n).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query ledger")
	}

	out := make([]domain.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := fromRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "decode ledger row %d", row.ID)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close closes the database.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRow(e domain.LedgerEntry) (ledgerRow, error) {
	row := ledgerRow{
		Timestamp:           e.EpochMillis(),
		Instrument:          e.Instrument,
		CycleID:             e.CycleID,
		Model:               e.Model,
		Action:              string(e.Action),
		Intensity:           e.Intensity.String(),
		Rationale:           e.Rationale,
		PositionQuantity:    e.PositionQuantity.String(),
		CashBalance:         e.CashBalance.String(),
		AvgAcquisitionPrice: e.AvgAcquisitionPrice.String(),
		MarketPrice:         e.MarketPrice.String(),
		NoOp:                string(e.NoOp),
	}
	if e.Outcome != nil {
		raw, err := json.Marshal(e.Outcome)
		if err != nil {
			return ledgerRow{}, errors.Wrap(err, "marshal order outcome")
		}
		row.Outcome = datatypes.JSON(raw)
	}
	return row, nil
}

func fromRow(row ledgerRow) (domain.LedgerEntry, error) {
	e := domain.LedgerEntry{
		Timestamp:  domain.NormalizeLedgerTime(time.UnixMilli(row.Timestamp)),
		CycleID:    row.CycleID,
		Instrument: row.Instrument,
		Model:      row.Model,
		Action:     domain.Action(row.Action),
		Rationale:  row.Rationale,
		NoOp:       domain.NoOpReason(row.NoOp),
	}

	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{row.Intensity, &e.Intensity},
		{row.PositionQuantity, &e.PositionQuantity},
		{row.CashBalance, &e.CashBalance},
		{row.AvgAcquisitionPrice, &e.AvgAcquisitionPrice},
		{row.MarketPrice, &e.MarketPrice},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.LedgerEntry{}, errors.Wrapf(err, "parse decimal %q", f.raw)
		}
		*f.dst = v
	}

	if len(row.Outcome) > 0 {
		var outcome domain.OrderOutcome
		if err := json.Unmarshal(row.Outcome, &outcome); err != nil {
			return domain.LedgerEntry{}, errors.Wrap(err, "decode order outcome")
		}
		e.Outcome = &outcome
	}
	return e, nil
}
