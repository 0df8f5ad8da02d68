package entity

import (
	"context"
	"fmt"

	"github.com/seenimoa/marketpulse/pkg/models"
)

// ReferenceReader reads instrument and sector reference data.
type ReferenceReader interface {
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	ListSectors(ctx context.Context) ([]models.Sector, error)
}

// ReferenceWriter persists instrument and sector reference data.
type ReferenceWriter interface {
	SaveInstrument(ctx context.Context, inst *models.Instrument) error
	SaveSector(ctx context.Context, sec *models.Sector) error
}

// Import writes every sector and instrument of c to w.
func Import(ctx context.Context, c *Corpus, w ReferenceWriter) (instruments, sectors int, err error) {
	for i := range c.Sectors {
		if err := w.SaveSector(ctx, &c.Sectors[i]); err != nil {
			return instruments, sectors, fmt.Errorf("save sector %s: %w", c.Sectors[i].Name, err)
		}
		sectors++
	}
	for i := range c.Instruments {
		if err := w.SaveInstrument(ctx, &c.Instruments[i]); err != nil {
			return instruments, sectors, fmt.Errorf("save instrument %s: %w", c.Instruments[i].Symbol, err)
		}
		instruments++
	}
	return instruments, sectors, nil
}

// FromStore loads a corpus from persisted reference data. It returns
// ErrEmptyCorpus when nothing has been imported.
func FromStore(ctx context.Context, r ReferenceReader) (*Corpus, error) {
	insts, err := r.ListInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	if len(insts) == 0 {
		return nil, ErrEmptyCorpus
	}
	secs, err := r.ListSectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sectors: %w", err)
	}
	c := &Corpus{Version: "store", Sectors: secs, Instruments: insts}
	c.normalize()
	return c, nil
}
