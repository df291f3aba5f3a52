package console

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainOutputWhenNotATerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		write func(c *Console)
		want  string
	}{
		{"shell", func(c *Console) { c.Shellf("Step %d: %s", 1, "open") }, "[optiga shell]  : Step 1: open\n"},
		{"example", func(c *Console) { c.Examplef("example_optiga_crypt_hash") }, "[optiga example]  : example_optiga_crypt_hash\n"},
		{"error", func(c *Console) { c.Errorf("Wrong command issued!") }, "[error] : Wrong command issued!\n"},
		{"plain", func(c *Console) { c.Println(">>>") }, ">>>\n"},
		{"raw", func(c *Console) { c.Print("o") }, "o"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			tt.write(New(&buf))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}
