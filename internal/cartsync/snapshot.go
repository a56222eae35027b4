package cartsync

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Product carries the denormalized display data attached to a line item.
type Product struct {
	ID            string   `json:"id,omitempty"`
	Name          string   `json:"name,omitempty"`
	LocalizedName string   `json:"localizedName,omitempty"`
	Images        []string `json:"images,omitempty"`
}

// LineItem is one line of the canonical cart. UnitPrice is snapshotted at
// add time and never re-derived from current product pricing.
type LineItem struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"productId"`
	ProductVariantID string          `json:"productVariantId,omitempty"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unitPrice"`
	Product          *Product        `json:"product,omitempty"`
}

// Snapshot is the canonical cart shape. An empty ID means the upstream has
// not materialized a cart for this identity yet.
type Snapshot struct {
	ID    string
	Items []LineItem
}

// snapshotWire mirrors the upstream payload. The item list historically
// shipped under two names; both are accepted on input and populated on
// output so neither generation of consumer breaks.
type snapshotWire struct {
	ID        string     `json:"id,omitempty"`
	Items     []LineItem `json:"items"`
	CartItems []LineItem `json:"cart_items"`
}

// MarshalJSON emits the item list under both accepted aliases.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	items := s.Items
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(snapshotWire{
		ID:        s.ID,
		Items:     items,
		CartItems: items,
	})
}

// UnmarshalJSON accepts the item list under either alias, preferring the
// primary name when both are present.
func (s *Snapshot) UnmarshalJSON(raw []byte) error {
	var wire snapshotWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	s.ID = wire.ID
	s.Items = wire.Items
	if s.Items == nil {
		s.Items = wire.CartItems
	}
	return nil
}

// Clone returns a fresh value so observers relying on reference identity
// for change detection fire correctly.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{ID: s.ID}
	if s.Items != nil {
		out.Items = make([]LineItem, len(s.Items))
		copy(out.Items, s.Items)
		for i := range out.Items {
			if p := out.Items[i].Product; p != nil {
				cp := *p
				if p.Images != nil {
					cp.Images = append([]string(nil), p.Images...)
				}
				out.Items[i].Product = &cp
			}
		}
	}
	return out
}

// Empty reports whether the snapshot carries no usable cart data.
func (s *Snapshot) Empty() bool {
	return s == nil || (s.ID == "" && len(s.Items) == 0)
}
