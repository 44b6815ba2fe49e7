package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/heatwatch/pkg/model"
)

// HouseholdsFile is the YAML layout of a household roster.
type HouseholdsFile struct {
	Households []model.Household `yaml:"households"`
}

// LoadHouseholds reads and validates a YAML household roster.
func LoadHouseholds(path string) ([]model.Household, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read households file %s: %w", path, err)
	}

	var f HouseholdsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse households file %s: %w", path, err)
	}
	if len(f.Households) == 0 {
		return nil, fmt.Errorf("households file %s: no households defined", path)
	}
	for i := range f.Households {
		h := &f.Households[i]
		if h.ID == "" {
			return nil, fmt.Errorf("households file %s: household %d has no id", path, i)
		}
		if err := h.Validate(); err != nil {
			return nil, err
		}
	}
	return f.Households, nil
}

// Upsert creates the household, or replaces it when the id already exists.
// It reports whether a new record was created.
func Upsert(ctx context.Context, s Store, h *model.Household) (bool, error) {
	if h.ID != "" {
		_, err := s.GetHousehold(ctx, h.ID)
		switch {
		case err == nil:
			return false, s.UpdateHousehold(ctx, h)
		case !errors.Is(err, ErrNotFound):
			return false, err
		}
	}
	return true, s.CreateHousehold(ctx, h)
}
