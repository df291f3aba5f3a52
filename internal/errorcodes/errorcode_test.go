package errorcodes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0x8007: Access conditions not satisfied", Err8007.Error())
	assert.True(t, Err8007.IsDevice())
	assert.False(t, ErrCryptBusy.IsDevice())
}

func TestLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code uint16
		want Status
	}{
		{name: "known device code", code: 0x8001, want: Err8001},
		{name: "known library code", code: 0x0611, want: ErrUtilBusy},
		{name: "unknown device code", code: 0x8099, want: Status{0x8099, "General error"}},
		{name: "unknown library code", code: 0x0999, want: Status{0x0999, "Unknown status"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Lookup(tt.code))
		})
	}
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint16(0), CodeOf(nil))
	assert.Equal(t, uint16(0x800E), CodeOf(fmt.Errorf("update counter: %w", Err800E)))
	assert.Equal(t, uint16(0x80FF), CodeOf(errors.New("plain")))
}
