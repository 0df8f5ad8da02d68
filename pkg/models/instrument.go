package models

// Instrument is a tradable symbol in the reference corpus.
type Instrument struct {
	Symbol   string   `json:"symbol" toml:"symbol"`                         // e.g., "RELIANCE"
	Name     string   `json:"name" toml:"name"`                             // e.g., "Reliance Industries Limited"
	Sector   string   `json:"sector" toml:"sector"`                         // owning sector name
	Variants []string `json:"variants,omitempty" toml:"variants,omitempty"` // precomputed, lower-cased
}

// SectorKeyword is one weighted term used for sector attribution.
type SectorKeyword struct {
	Term   string  `json:"term" toml:"term"`
	Weight float64 `json:"weight" toml:"weight"`
}

// Sector is a market sector with its attribution keywords.
type Sector struct {
	Name     string          `json:"name" toml:"name"` // e.g., "energy"
	Keywords []SectorKeyword `json:"keywords,omitempty" toml:"keywords,omitempty"`
}
