package upsert

import (
	"time"

	"github.com/fartrucking/far-warehousing/pkg/zoho"
)

// Profile is the concurrency and pacing for one record kind.
type Profile struct {
	Kind           string
	Limit          int
	Delay          time.Duration
	DuplicateCodes []int
}

// IsDuplicate reports whether code signals that the record already exists remotely.
func (p Profile) IsDuplicate(code int) bool {
	for _, c := range p.DuplicateCodes {
		if c == code {
			return true
		}
	}
	return false
}

// DefaultProfiles returns the per-kind profiles keyed by kind.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		zoho.KindItem: {
			Kind:           zoho.KindItem,
			Limit:          5,
			Delay:          5 * time.Second,
			DuplicateCodes: []int{zoho.CodeItemDuplicate},
		},
		zoho.KindPurchaseOrder: {
			Kind:  zoho.KindPurchaseOrder,
			Limit: 5,
			Delay: 5 * time.Second,
		},
		zoho.KindContact: {
			Kind:           zoho.KindContact,
			Limit:          5,
			Delay:          2 * time.Second,
			DuplicateCodes: []int{zoho.CodeContactDuplicate},
		},
		zoho.KindSalesOrder: {
			Kind:  zoho.KindSalesOrder,
			Limit: 1,
			Delay: 5 * time.Second,
		},
	}
}
