package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"abmarket/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// tradeBatchSize bounds insert statements when persisting large trade logs.
const tradeBatchSize = 500

// Storage persists simulation results to SQLite
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the results database at the given path
func NewStorage(path string) (*Storage, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.SimulationRun{}, &domain.TradeRecord{}, &domain.WealthSummary{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Run Operations
// ======================================================================================

// SaveRun inserts a completed run and fills in its assigned ID
func (s *Storage) SaveRun(run *domain.SimulationRun) error {
	return s.db.Create(run).Error
}

// GetRun retrieves one run by ID
func (s *Storage) GetRun(id uint) (*domain.SimulationRun, error) {
	var run domain.SimulationRun
	err := s.db.First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &run, err
}

// GetRunsByLabel retrieves every run recorded under a scenario label
func (s *Storage) GetRunsByLabel(label string) ([]domain.SimulationRun, error) {
	var runs []domain.SimulationRun
	err := s.db.Where("label = ?", label).Order("id").Find(&runs).Error
	return runs, err
}

// GetAllRuns retrieves all recorded runs in insertion order
func (s *Storage) GetAllRuns() ([]domain.SimulationRun, error) {
	var runs []domain.SimulationRun
	err := s.db.Order("id").Find(&runs).Error
	return runs, err
}

// ======================================================================================
// Trade Operations
// ======================================================================================

// SaveTrades bulk-inserts the trade log of one run
func (s *Storage) SaveTrades(trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	return s.db.CreateInBatches(trades, tradeBatchSize).Error
}

// GetTrades retrieves the trade log of one run in execution order
func (s *Storage) GetTrades(runID uint) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&trades).Error
	return trades, err
}

// ======================================================================================
// Wealth Operations
// ======================================================================================

// SaveWealthSummaries inserts the per-group wealth rows of one run
func (s *Storage) SaveWealthSummaries(summaries []domain.WealthSummary) error {
	if len(summaries) == 0 {
		return nil
	}
	return s.db.Create(&summaries).Error
}

// GetWealthSummaries retrieves the wealth rows of one run
func (s *Storage) GetWealthSummaries(runID uint) ([]domain.WealthSummary, error) {
	var summaries []domain.WealthSummary
	err := s.db.Where("run_id = ?", runID).Order("id").Find(&summaries).Error
	return summaries, err
}
