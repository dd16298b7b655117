package keeper

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Settlement states a claim intent moves through.
const (
	SettlementPending = "pending"
	SettlementSettled = "settled"
	SettlementFailed  = "failed"
)

// Settlement is one recorded claim attempt. Amounts are stored as decimal
// strings so wei-scale values survive the database round trip.
type Settlement struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Claimer       string    `gorm:"size:90;index"`
	Projected     string    `gorm:"size:80"`
	Paid          string    `gorm:"size:80"`
	TotalYield    string    `gorm:"size:80"`
	StrategyCount int
	Status        string `gorm:"size:16;index"`
	Detail        string `gorm:"size:256"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store persists the keeper's settlement history.
type Store struct {
	db *gorm.DB
}

// OpenStore initialises the sqlite-backed settlement history at dsn.
func OpenStore(dsn string) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("keeper: database path required")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("keeper: open database: %w", err)
	}
	return NewStore(db)
}

// NewStore migrates and wraps an existing database handle.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("keeper: nil database")
	}
	if err := db.AutoMigrate(&Settlement{}); err != nil {
		return nil, fmt.Errorf("keeper: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// CreateIntent records a pending claim attempt and returns it.
func (s *Store) CreateIntent(claimer string, projected *big.Int) (*Settlement, error) {
	if projected == nil {
		return nil, fmt.Errorf("keeper: nil projection")
	}
	record := &Settlement{
		ID:        uuid.New(),
		Claimer:   claimer,
		Projected: projected.String(),
		Status:    SettlementPending,
	}
	if err := s.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("keeper: record intent: %w", err)
	}
	return record, nil
}

// MarkSettled finalises a pending intent with the settled amounts.
func (s *Store) MarkSettled(id uuid.UUID, paid, totalYield *big.Int, strategies int) error {
	updates := map[string]any{
		"status":         SettlementSettled,
		"paid":           paid.String(),
		"total_yield":    totalYield.String(),
		"strategy_count": strategies,
	}
	return s.update(id, updates)
}

// MarkFailed finalises a pending intent with the failure detail.
func (s *Store) MarkFailed(id uuid.UUID, detail string) error {
	return s.update(id, map[string]any{
		"status": SettlementFailed,
		"detail": detail,
	})
}

func (s *Store) update(id uuid.UUID, updates map[string]any) error {
	result := s.db.Model(&Settlement{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("keeper: update settlement: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("keeper: settlement %s not found", id)
	}
	return nil
}

// Recent returns the newest settlements, most recent first.
func (s *Store) Recent(limit int) ([]Settlement, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []Settlement
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("keeper: list settlements: %w", err)
	}
	return records, nil
}
