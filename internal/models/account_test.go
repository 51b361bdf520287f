package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	t.Run("known roles", func(t *testing.T) {
		for _, s := range []string{"personal", "trader", "agent", "admin"} {
			role, ok := ParseRole(s)
			assert.True(t, ok)
			assert.Equal(t, Role(s), role)
		}
	})

	t.Run("unknown roles rejected", func(t *testing.T) {
		for _, s := range []string{"", "superuser", "Trader", "ADMIN"} {
			_, ok := ParseRole(s)
			assert.False(t, ok)
		}
	})
}
