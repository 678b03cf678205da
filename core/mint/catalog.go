package mint

// MaxPageSize caps one List call; larger requests are clamped, never
// rejected.
const MaxPageSize = 200

// Catalog is the insertion-ordered mapping from token id to its record.
// Not safe for concurrent use on its own; the owning Tool serializes
// access.
type Catalog struct {
	byID  map[Identity]TokenRecord
	order []Identity
}

func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[Identity]TokenRecord)}
}

// Insert records an issued token. A duplicate key silently overwrites the
// previous record (last write wins); token ids are freshly allocated by the
// platform, so this never happens in the create flow.
func (c *Catalog) Insert(record TokenRecord) {
	if _, exists := c.byID[record.TokenID]; !exists {
		c.order = append(c.order, record.TokenID)
	}
	c.byID[record.TokenID] = record
}

// Get returns the record for a token id.
func (c *Catalog) Get(id Identity) (TokenRecord, error) {
	record, ok := c.byID[id]
	if !ok {
		return TokenRecord{}, ErrTokenNotFound
	}
	return record, nil
}

// List returns up to min(size, MaxPageSize) records in insertion order
// starting at offset start. A start at or beyond the end yields an empty
// slice, never an error.
func (c *Catalog) List(start, size int) []TokenRecord {
	if start < 0 {
		start = 0
	}
	if size < 0 {
		size = 0
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if start >= len(c.order) {
		return []TokenRecord{}
	}
	end := start + size
	if end > len(c.order) {
		end = len(c.order)
	}
	out := make([]TokenRecord, 0, end-start)
	for _, id := range c.order[start:end] {
		out = append(out, c.byID[id])
	}
	return out
}

// Count returns the number of catalog entries.
func (c *Catalog) Count() int { return len(c.order) }

// Records returns all entries in insertion order.
func (c *Catalog) Records() []TokenRecord {
	out := make([]TokenRecord, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}
