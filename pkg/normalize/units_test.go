package normalize

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConvertQuantity(t *testing.T) {
	t.Run("should convert bottles to cases", func(t *testing.T) {
		got := ConvertQuantity(decimal.NewFromInt(24), "BOT", "C12")
		assert.True(t, got.Equal(decimal.NewFromInt(2)), got.String())
	})

	t.Run("should convert cases to bottles", func(t *testing.T) {
		got := ConvertQuantity(decimal.NewFromInt(2), "C6", "BOT")
		assert.True(t, got.Equal(decimal.NewFromInt(12)), got.String())
	})

	t.Run("should convert between case sizes with four places", func(t *testing.T) {
		got := ConvertQuantity(decimal.NewFromInt(1), "C6", "c12")
		assert.Equal(t, "0.5", got.String())

		got = ConvertQuantity(decimal.NewFromInt(1), "BOTTLE", "C3")
		assert.Equal(t, "0.3333", got.String())
	})

	t.Run("should leave unknown units unchanged", func(t *testing.T) {
		got := ConvertQuantity(decimal.NewFromInt(7), "kg", "C12")
		assert.True(t, got.Equal(decimal.NewFromInt(7)))

		got = ConvertQuantity(decimal.NewFromInt(7), "bot", "bottle")
		assert.True(t, got.Equal(decimal.NewFromInt(7)))
	})
}
