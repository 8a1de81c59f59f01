package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSlotNumber(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *int
	}{
		{"singles with hash", "SINGLES #7", intPtr(7)},
		{"item with hash", "Item #12", intPtr(12)},
		{"trailing bare number", "Random Title 5", intPtr(5)},
		{"no numbers", "No Numbers Here", nil},
		{"singles without separator", "singles7", intPtr(7)},
		{"singles with dash", "SINGLES - 15", intPtr(15)},
		{"trailing hash", "2023 Topps Chrome #45", intPtr(45)},
		{"item beats trailing hash", "Item 3 from 2019 lot #9", intPtr(3)},
		{"singles beats item", "Singles #2 item #8", intPtr(2)},
		{"number not at end", "Card 2023 Topps", nil},
		{"surrounding whitespace", "  Mystery Box 4  ", intPtr(4)},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractSlotNumber(tt.in))
		})
	}
}

func TestFirstInteger(t *testing.T) {
	assert.Equal(t, intPtr(42), firstInteger("SKU-0042-B"))
	assert.Equal(t, intPtr(3), firstInteger(" 3 "))
	assert.Nil(t, firstInteger("none"))
}

func intPtr(n int) *int {
	return &n
}
