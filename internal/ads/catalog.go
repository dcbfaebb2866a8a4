package ads

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed spots.json
var defaultSpots []byte

// Ad spot positions.
const (
	PositionTop    = "top"
	PositionRight  = "right"
	PositionBottom = "bottom"
	PositionLeft   = "left"
)

// ValidPosition reports whether p is a known position.
func ValidPosition(p string) bool {
	switch p {
	case PositionTop, PositionRight, PositionBottom, PositionLeft:
		return true
	}
	return false
}

// Dimensions is the rendered size of a spot.
type Dimensions struct {
	Width  string `json:"width"`
	Height string `json:"height"`
}

// Spot is a fixed placement that can be sold.
type Spot struct {
	ID         string     `json:"id"`
	Size       string     `json:"size"`
	Position   string     `json:"position"`
	Label      string     `json:"label"`
	Dimensions Dimensions `json:"dimensions"`
}

// Catalog is the static list of spots.
type Catalog struct {
	spots []Spot
	byID  map[string]Spot
}

// LoadCatalog reads the catalog from path, or the embedded default when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultSpots
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read ad spots: %w", err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes {"adSpots": [...]} and validates it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		AdSpots []Spot `json:"adSpots"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse ad spots: %w", err)
	}

	c := &Catalog{byID: make(map[string]Spot, len(doc.AdSpots))}
	for _, s := range doc.AdSpots {
		if s.ID == "" {
			return nil, fmt.Errorf("ad spot without id")
		}
		if !ValidPosition(s.Position) {
			return nil, fmt.Errorf("ad spot %s: invalid position %q", s.ID, s.Position)
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate ad spot %s", s.ID)
		}
		c.byID[s.ID] = s
		c.spots = append(c.spots, s)
	}
	return c, nil
}

// Spots returns every spot in catalog order.
func (c *Catalog) Spots() []Spot {
	out := make([]Spot, len(c.spots))
	copy(out, c.spots)
	return out
}

func (c *Catalog) Spot(id string) (Spot, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// ByPosition returns the spots at position in catalog order.
func (c *Catalog) ByPosition(position string) []Spot {
	var out []Spot
	for _, s := range c.spots {
		if s.Position == position {
			out = append(out, s)
		}
	}
	return out
}
