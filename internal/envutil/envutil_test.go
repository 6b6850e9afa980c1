package envutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDev(t *testing.T) {
	for value, want := range map[string]bool{
		"":            false,
		"production":  false,
		"dev":         true,
		"Development": true,
	} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("AGROSENSE_ENV", value)
			assert.Equal(t, want, IsDev())
		})
	}
}
