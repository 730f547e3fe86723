package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/outfit-relay/internal/models"
	"gorm.io/gorm"
)

const slotID = 1

// PostgresStore keeps the slot in a single row so it survives restarts.
type PostgresStore struct {
	db *gorm.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, payload json.RawMessage) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	slot := models.OverlaySlot{
		ID:        slotID,
		Payload:   payload,
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Save(&slot).Error; err != nil {
		return fmt.Errorf("failed to save overlay: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context) (State, bool, error) {
	var slot models.OverlaySlot
	err := s.db.WithContext(ctx).Where("id = ?", slotID).First(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("failed to load overlay: %w", err)
	}
	return State{Payload: slot.Payload, UpdatedAt: slot.UpdatedAt}, true, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("id = ?", slotID).Delete(&models.OverlaySlot{}).Error; err != nil {
		return fmt.Errorf("failed to clear overlay: %w", err)
	}
	return nil
}
