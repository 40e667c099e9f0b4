package model

import (
	"main/internal/model/enum"

	"github.com/yanun0323/errors"
)

// Instrument is the immutable configuration of one tradable symbol,
// loaded at startup.
type Instrument struct {
	ID        string
	Symbol    string
	Precision int
	Source    enum.SourceKind

	// Synthetic generation parameters.
	StartPrice float64
	MinPrice   float64
	MaxPrice   float64
	Volatility float64
	IntervalMs int64

	// External feed parameters. Multiple instruments may share a pair key.
	PairKey string
}

// Validate reports whether the instrument configuration is complete
// enough to start an engine for it.
func (i Instrument) Validate() error {
	if i.ID == "" {
		return errors.New("instrument id is empty")
	}
	if !i.Source.IsAvailable() {
		return errors.Errorf("instrument %s: unknown source kind", i.ID)
	}
	switch i.Source {
	case enum.SourceSynthetic:
		if i.StartPrice <= 0 {
			return errors.Errorf("instrument %s: start price must be positive", i.ID)
		}
		if i.MinPrice <= 0 || i.MaxPrice <= i.MinPrice {
			return errors.Errorf("instrument %s: invalid price bounds [%v, %v]", i.ID, i.MinPrice, i.MaxPrice)
		}
		if i.Volatility <= 0 {
			return errors.Errorf("instrument %s: volatility must be positive", i.ID)
		}
		if i.IntervalMs <= 0 {
			return errors.Errorf("instrument %s: generation interval must be positive", i.ID)
		}
	case enum.SourceFeed:
		if i.PairKey == "" {
			return errors.Errorf("instrument %s: feed instrument needs a pair key", i.ID)
		}
	}
	return nil
}
