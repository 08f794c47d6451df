package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// AddPin inserts pin, defaulting its status to pending.
func (s *Store) AddPin(ctx context.Context, pin *Pin) error {
	if pin.Status == "" {
		pin.Status = PinStatusPending
	}
	if !validPinStatus(pin.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidPinStatus, pin.Status)
	}
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.Create(pin).Error
	})
	if err != nil {
		return fmt.Errorf("add pin: %w", err)
	}
	return nil
}

// UpdatePin writes every column of pin except its id and creation time.
func (s *Store) UpdatePin(ctx context.Context, pin *Pin) error {
	if pin.ID == 0 {
		return ErrPinNotFound
	}
	if !validPinStatus(pin.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidPinStatus, pin.Status)
	}
	err := s.Session(ctx, func(tx *gorm.DB) error {
		res := tx.Model(pin).Select("*").Omit("id", "created_at").Updates(pin)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPinNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrPinNotFound) {
		return fmt.Errorf("update pin: %w", err)
	}
	return err
}

func (s *Store) DeletePin(ctx context.Context, id uint) error {
	err := s.Session(ctx, func(tx *gorm.DB) error {
		res := tx.Delete(&Pin{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrPinNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrPinNotFound) {
		return fmt.Errorf("delete pin: %w", err)
	}
	return err
}

func (s *Store) GetPin(ctx context.Context, id uint) (*Pin, error) {
	var pin Pin
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.First(&pin, id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPinNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pin: %w", err)
	}
	return &pin, nil
}

// ListPins returns pins oldest first.
func (s *Store) ListPins(ctx context.Context, filter PinFilter) ([]Pin, error) {
	var pins []Pin
	err := s.Session(ctx, func(tx *gorm.DB) error {
		q := tx.Model(&Pin{})
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Site != "" {
			q = q.Where("site = ?", filter.Site)
		}
		if filter.Limit > 0 {
			q = q.Limit(filter.Limit)
		}
		if filter.Offset > 0 {
			q = q.Offset(filter.Offset)
		}
		return q.Order("created_at ASC").Order("id ASC").Find(&pins).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}
	return pins, nil
}

func (s *Store) ListPinsByStatus(ctx context.Context, status string, limit int) ([]Pin, error) {
	return s.ListPins(ctx, PinFilter{Status: status, Limit: limit})
}

// ListPendingPinsForSite returns pending pins generated for site.
func (s *Store) ListPendingPinsForSite(ctx context.Context, site string, limit int) ([]Pin, error) {
	return s.ListPins(ctx, PinFilter{Status: PinStatusPending, Site: site, Limit: limit})
}

// CountPinsByStatus returns the number of pins per status.
func (s *Store) CountPinsByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := s.Session(ctx, func(tx *gorm.DB) error {
		return tx.Model(&Pin{}).Select("status, count(*) as count").Group("status").Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("count pins: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// ResetPinStatus moves a failed pin back to pending or published so the next
// publish or share run picks it up again.
func (s *Store) ResetPinStatus(ctx context.Context, id uint, status string) error {
	if status != PinStatusPending && status != PinStatusPublished {
		return fmt.Errorf("%w: cannot reset to %q", ErrInvalidPinStatus, status)
	}
	err := s.Session(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Pin{}).
			Where("id = ? AND status = ?", id, PinStatusFailed).
			Updates(map[string]interface{}{
				"status":       status,
				"is_published": status == PinStatusPublished,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		var count int64
		if err := tx.Model(&Pin{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrPinNotFound
		}
		return ErrPinNotResettable
	})
	if err != nil && !errors.Is(err, ErrPinNotFound) && !errors.Is(err, ErrPinNotResettable) {
		return fmt.Errorf("reset pin: %w", err)
	}
	return err
}
