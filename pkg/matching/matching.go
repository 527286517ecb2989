// Package matching decides whether an imported record denotes an entity the
// inventory system already knows about.
package matching

import (
	"github.com/fartrucking/far-warehousing/pkg/normalize"
)

// Identity fields.
const (
	KeyName    = "name"
	KeySKU     = "sku"
	KeyContact = "contact"
	KeyCompany = "company"
	KeyNumber  = "number"
)

// Identity is the set of normalized keys a record is known by, by key field.
type Identity map[string]string

// NewIdentity builds an identity from field/value pairs, normalizing every value
// with the named normalizer. Blank keys are omitted.
func NewIdentity(normalizer string, fieldValues ...string) Identity {
	id := make(Identity, len(fieldValues)/2)
	for i := 0; i+1 < len(fieldValues); i += 2 {
		key := normalize.Apply(fieldValues[i+1], normalizer)
		if key == "" {
			continue
		}
		id[fieldValues[i]] = key
	}
	return id
}

// NameIdentity identifies by display name.
func NameIdentity(name string) Identity {
	return NewIdentity(normalize.NormalizerNameKey, KeyName, name)
}

// SKUIdentity identifies items by SKU.
func SKUIdentity(sku string) Identity {
	return NewIdentity(normalize.NormalizerSKUKey, KeySKU, sku)
}

// OrderIdentity identifies orders by order number.
func OrderIdentity(number string) Identity {
	return NewIdentity(normalize.NormalizerNameKey, KeyNumber, number)
}

// CustomerIdentity identifies customers by contact name or company name.
func CustomerIdentity(contactName, companyName string) Identity {
	return NewIdentity(normalize.NormalizerNameKey, KeyContact, contactName, KeyCompany, companyName)
}

// CustomerNameIdentity identifies a customer referenced by a single name that may
// be either its contact name or its company name.
func CustomerNameIdentity(name string) Identity {
	return CustomerIdentity(name, name)
}

// Usable reports whether the identity carries at least one key.
func (id Identity) Usable() bool {
	return len(id) > 0
}

// Matches reports whether any key field present in both identities is equal.
func (id Identity) Matches(other Identity) bool {
	for field, key := range id {
		if otherKey, ok := other[field]; ok && otherKey == key {
			return true
		}
	}
	return false
}

// FindExisting returns the first known entity whose identity matches candidate.
// It returns false when candidate has no usable key, known is empty, or nothing matches.
func FindExisting[T any](candidate Identity, known []T, identify func(T) Identity) (T, bool) {
	var zero T
	if !candidate.Usable() || len(known) == 0 {
		return zero, false
	}
	for _, entity := range known {
		if candidate.Matches(identify(entity)) {
			return entity, true
		}
	}
	return zero, false
}

// FindCustomer matches a candidate customer against known contacts by contact
// name or company name.
func FindCustomer[T any](contactName, companyName string, known []T, names func(T) (contact, company string)) (T, bool) {
	return FindExisting(CustomerIdentity(contactName, companyName), known, func(c T) Identity {
		return CustomerIdentity(names(c))
	})
}

// FindOrderByNumber returns the known order whose number matches.
func FindOrderByNumber[T any](number string, known []T, numberOf func(T) string) (T, bool) {
	return FindExisting(OrderIdentity(number), known, func(o T) Identity {
		return OrderIdentity(numberOf(o))
	})
}
