package domain

import "time"

// SharedDataset is an immutable snapshot of matched events produced by one
// pipeline run.
type SharedDataset struct {
	ID        string         `json:"id"`
	RunID     string         `json:"pipeline_run_id"`
	Items     []MatchedEvent `json:"items"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// ActiveAt reports whether the dataset has not yet expired at t.
func (d SharedDataset) ActiveAt(t time.Time) bool {
	return t.Before(d.ExpiresAt)
}

// DatasetHeader is the dataset without its items.
type DatasetHeader struct {
	ID        string    `json:"id"`
	RunID     string    `json:"pipeline_run_id"`
	ItemCount int       `json:"items_count"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Header strips the items.
func (d SharedDataset) Header() DatasetHeader {
	return DatasetHeader{
		ID:        d.ID,
		RunID:     d.RunID,
		ItemCount: len(d.Items),
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

// CurrentDataset is the answer to "which snapshot should a caller see now".
type CurrentDataset struct {
	Dataset SharedDataset `json:"dataset"`
	Stale   bool          `json:"stale"` // true when served by the expired fallback
}

// Entitlement grants a wallet read access to one dataset until ValidUntil.
type Entitlement struct {
	ID         string    `json:"id"`
	Wallet     string    `json:"wallet"`
	DatasetID  string    `json:"dataset_id"`
	TxRef      string    `json:"tx_ref,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
	ValidUntil time.Time `json:"valid_until"`
}

// ValidAt reports whether the grant is still usable at t.
func (e Entitlement) ValidAt(t time.Time) bool {
	return t.Before(e.ValidUntil)
}

// EntitlementStatus is returned by access lookups.
type EntitlementStatus struct {
	Entitlement Entitlement `json:"entitlement"`
	IsValid     bool        `json:"is_valid"`
}
