package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type customer struct {
	ID      string
	Contact string
	Company string
}

func customerIdentity(c customer) Identity {
	return CustomerIdentity(c.Contact, c.Company)
}

func TestFindExisting(t *testing.T) {
	t.Run("should match names ignoring case and whitespace", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: "  ACME   CORP "}}

		got, ok := FindExisting(CustomerIdentity("Acme Corp", ""), known, customerIdentity)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("should match customers on contact or company", func(t *testing.T) {
		known := []customer{
			{ID: "1", Contact: "Jane Doe", Company: "Globex"},
			{ID: "2", Contact: "John Roe", Company: "Initech"},
		}

		got, ok := FindExisting(CustomerIdentity("Someone Else", "initech"), known, customerIdentity)
		assert.True(t, ok)
		assert.Equal(t, "2", got.ID)

		got, ok = FindExisting(CustomerIdentity("jane doe", "Other Co"), known, customerIdentity)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("should not cross-match contact against company", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: "Globex", Company: "Jane Doe"}}

		_, ok := FindExisting(CustomerIdentity("Jane Doe", ""), known, customerIdentity)
		assert.False(t, ok)
	})

	t.Run("should resolve a single customer name against either field", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: "Jane Doe", Company: "Globex"}}

		got, ok := FindExisting(CustomerNameIdentity("GLOBEX"), known, customerIdentity)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("should return the first match", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: "Acme"}, {ID: "2", Contact: "acme"}}

		got, ok := FindExisting(CustomerIdentity("ACME", ""), known, customerIdentity)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("should not match without a usable key", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: ""}}

		_, ok := FindExisting(CustomerIdentity("  ", ""), known, customerIdentity)
		assert.False(t, ok)
	})

	t.Run("should not match an empty list", func(t *testing.T) {
		_, ok := FindExisting(CustomerIdentity("Acme", ""), nil, customerIdentity)
		assert.False(t, ok)
	})

	t.Run("should not match partial names", func(t *testing.T) {
		known := []customer{{ID: "1", Contact: "Acme Corporation"}}

		_, ok := FindExisting(CustomerIdentity("Acme Corp", ""), known, customerIdentity)
		assert.False(t, ok)
	})

	t.Run("should match SKUs regardless of hyphens", func(t *testing.T) {
		known := []string{"ABC-123", "XYZ-9"}

		got, ok := FindExisting(SKUIdentity("abc 123"), known, SKUIdentity)
		assert.True(t, ok)
		assert.Equal(t, "ABC-123", got)
	})

	t.Run("should match order numbers exactly after normalization", func(t *testing.T) {
		known := []string{"SO-100", "SO-1000"}

		got, ok := FindExisting(OrderIdentity(" so-1000 "), known, OrderIdentity)
		assert.True(t, ok)
		assert.Equal(t, "SO-1000", got)
	})
}

func TestFindCustomer(t *testing.T) {
	known := []customer{{ID: "1", Contact: "Jane Doe", Company: "Globex"}}
	names := func(c customer) (string, string) { return c.Contact, c.Company }

	t.Run("should match on company when the contact differs", func(t *testing.T) {
		got, ok := FindCustomer("Someone", "GLOBEX", known, names)
		assert.True(t, ok)
		assert.Equal(t, "1", got.ID)
	})

	t.Run("should not match unrelated names", func(t *testing.T) {
		_, ok := FindCustomer("Someone", "Initech", known, names)
		assert.False(t, ok)
	})
}

func TestFindOrderByNumber(t *testing.T) {
	type order struct{ ID, Number string }
	known := []order{{ID: "a", Number: "PO-100"}, {ID: "b", Number: "PO-101"}}

	t.Run("should match order numbers after normalization", func(t *testing.T) {
		got, ok := FindOrderByNumber(" po-101", known, func(o order) string { return o.Number })
		assert.True(t, ok)
		assert.Equal(t, "b", got.ID)
	})

	t.Run("should not match a blank number", func(t *testing.T) {
		_, ok := FindOrderByNumber("", known, func(o order) string { return o.Number })
		assert.False(t, ok)
	})
}
