package badger

import (
	"context"
	"fmt"
	"sort"

	"github.com/seenimoa/marketpulse/pkg/models"
)

func (s *Store) SaveSource(ctx context.Context, src *models.Source) error {
	if src.ID == "" {
		return fmt.Errorf("source ID is required")
	}
	if err := s.db.Upsert(src.ID, src); err != nil {
		return fmt.Errorf("failed to save source: %w", err)
	}
	return nil
}

func (s *Store) GetSource(ctx context.Context, id string) (*models.Source, error) {
	var src models.Source
	if err := s.db.Get(id, &src); err != nil {
		return nil, notFound(err, "source", id)
	}
	return &src, nil
}

func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	var out []models.Source
	if err := s.db.Find(&out, nil); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveInstrument(ctx context.Context, inst *models.Instrument) error {
	if inst.Symbol == "" {
		return fmt.Errorf("instrument symbol is required")
	}
	if err := s.db.Upsert(inst.Symbol, inst); err != nil {
		return fmt.Errorf("failed to save instrument: %w", err)
	}
	return nil
}

func (s *Store) GetInstrument(ctx context.Context, symbol string) (*models.Instrument, error) {
	var inst models.Instrument
	if err := s.db.Get(symbol, &inst); err != nil {
		return nil, notFound(err, "instrument", symbol)
	}
	return &inst, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	var out []models.Instrument
	if err := s.db.Find(&out, nil); err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *Store) SaveSector(ctx context.Context, sec *models.Sector) error {
	if sec.Name == "" {
		return fmt.Errorf("sector name is required")
	}
	if err := s.db.Upsert(sec.Name, sec); err != nil {
		return fmt.Errorf("failed to save sector: %w", err)
	}
	return nil
}

func (s *Store) GetSector(ctx context.Context, name string) (*models.Sector, error) {
	var sec models.Sector
	if err := s.db.Get(name, &sec); err != nil {
		return nil, notFound(err, "sector", name)
	}
	return &sec, nil
}

func (s *Store) ListSectors(ctx context.Context) ([]models.Sector, error) {
	var out []models.Sector
	if err := s.db.Find(&out, nil); err != nil {
		return nil, fmt.Errorf("failed to list sectors: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
