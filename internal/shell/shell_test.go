package shell

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrei-cloud/go_optiga/internal/chip"
	"github.com/andrei-cloud/go_optiga/internal/console"
	"github.com/andrei-cloud/go_optiga/internal/datastore"
	"github.com/andrei-cloud/go_optiga/internal/examples"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

// syncBuffer lets tests read output while the shell goroutines write it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func newShell(t *testing.T, input string, opts ...examples.Option) (*Shell, *syncBuffer) {
	t.Helper()

	c, err := chip.New()
	require.NoError(t, err)
	h := optiga.NewHost(optiga.NewLocal(c), optiga.WithSecretStore(datastore.NewMemory()))
	t.Cleanup(func() { _ = h.Close() })

	out := &syncBuffer{}
	r := examples.NewRunner(h, console.New(out), opts...)

	return New(strings.NewReader(input), r, WithWaitInterval(10*time.Millisecond), WithSelftestDelay(0)), out
}

func TestTrim(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line string
		want string
	}{
		{"optiga --init", "init"},
		{"optiga -- ecdsa sign", "ecdsasign"},
		{"optiga  --  hash", "hash"},
		{"optiga --", "optiga--"},
		{"optiga --x", "optiga--x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.line, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, trim(tt.line))
		})
	}
}

func TestCommandTable(t *testing.T) {
	t.Parallel()

	s, _ := newShell(t, "")
	names := make([]string, 0, len(s.Commands()))
	for _, c := range s.Commands() {
		require.NotNil(t, c.Handler, c.Name)
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{
		"help", "init", "deinit", "selftest", "readdata", "writedata", "coprocid",
		"bind", "hibernate", "counter", "protected",
		"hash", "hashsha256", "prf", "random",
		"ecckeygen", "ecdsasign", "ecdsaverify", "ecdh",
		"rsakeygen", "rsasign", "rsaverify", "rsaencmsg", "rsaencsession", "rsadecstore", "rsadecexp",
		"ecbencdec", "cbcencdec", "cbcmacenc", "hmac", "hkdf", "aeskeygen", "clrautostate", "hmacverify",
	}, names)

	for _, name := range selftestOrder {
		_, ok := s.lookup(name)
		assert.True(t, ok, name)
	}
	assert.Equal(t, "", s.Commands()[0].Description)
	assert.Equal(t, "    initialize optiga                        : optiga --", s.Commands()[1].Description)
}

func TestShowUsage(t *testing.T) {
	t.Parallel()

	s, out := newShell(t, "")
	s.ShowUsage()

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\n    USAGE : optiga -<cmd>\n\n"))
	assert.Contains(t, got, "    initialize optiga                        : optiga --init\n")
	assert.Contains(t, got, "    hmac verify                              : optiga --hmacverify\n")
	assert.NotContains(t, got, "optiga --help")
	assert.True(t, strings.HasSuffix(got,
		"\nInitialize OPTIGA before the 1st crypto functionality (not required for self-test)\n"))
}

func TestExecuteWrongCommand(t *testing.T) {
	t.Parallel()

	tests := []string{
		"optiga --",
		"optiga --nosuch",
		"optiga -init",
		"optig --init",
		"init",
	}
	for _, line := range tests {
		line := line
		t.Run(line, func(t *testing.T) {
			t.Parallel()

			s, out := newShell(t, "")
			err := s.Execute(context.Background(), line)
			require.ErrorIs(t, err, ErrWrongCommand)
			assert.Equal(t,
				"\n"+console.ErrorPrefix+"Wrong command issued!\n"+
					"Please try again or type help for list of commands\n\n",
				out.String())
		})
	}
}

func TestExecuteRunsHandler(t *testing.T) {
	t.Parallel()

	s, out := newShell(t, "", examples.WithExclusiveInit(false))
	require.NoError(t, s.Execute(context.Background(), "optiga -- random"))

	got := out.String()
	assert.True(t, strings.HasPrefix(got, "\n"+console.ShellPrefix+"Starting Generate Random Example\n"))
	assert.Contains(t, got, console.ShellPrefix+"1 Step: Generate 32 bytes random\n")
	assert.Contains(t, got, console.ExamplePrefix+"example_optiga_crypt_random\n")
	assert.Contains(t, got, "Example takes ")
	assert.NotContains(t, got, "Wrong command")
}

func TestReadDataBanner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		exclusive bool
		extra     bool
	}{
		{"exclusive", true, false},
		{"per example", false, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, out := newShell(t, "", examples.WithExclusiveInit(tt.exclusive))
			ctx := context.Background()
			if tt.exclusive {
				require.NoError(t, s.Execute(ctx, "optiga --init"))
			}
			require.NoError(t, s.Execute(ctx, "optiga --readdata"))

			got := out.String()
			assert.Equal(t, tt.extra, strings.Contains(got, "3 Step: Close the application on OPTIGA"))
			assert.Contains(t, got, "2 Step: Read Certificate Metadata")
		})
	}
}

func TestBegin(t *testing.T) {
	t.Parallel()

	s, out := newShell(t, "optiga --help\r\nbogus\n\n")
	require.NoError(t, s.Begin(context.Background()))

	got := out.String()
	// usage at start and once more for help
	assert.Equal(t, 2, strings.Count(got, "    USAGE : optiga -<cmd>"))
	assert.Contains(t, got, "optiga --help>>>\n")
	assert.Contains(t, got, "bogus>>>\n")
	assert.Equal(t, 1, strings.Count(got, "Wrong command issued!"))
	assert.True(t, strings.HasSuffix(got, "\n>>>\n"))
}

func TestBeginLineCap(t *testing.T) {
	t.Parallel()

	long := "optiga --" + strings.Repeat("a", 60)
	s, out := newShell(t, long+"\n")
	require.NoError(t, s.Begin(context.Background()))

	want := long[:lineCap]
	assert.Contains(t, out.String(), want+">>>\n")
	assert.NotContains(t, out.String(), long[:lineCap+1])
}

func TestBeginCancelled(t *testing.T) {
	t.Parallel()

	c, err := chip.New()
	require.NoError(t, err)
	h := optiga.NewHost(optiga.NewLocal(c))
	r := examples.NewRunner(h, console.New(&syncBuffer{}))
	pr, pw := io.Pipe()
	defer pw.Close()
	s := New(pr, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Begin(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Begin did not return after cancel")
	}
}

func TestWaitForUser(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	c, err := chip.New()
	require.NoError(t, err)
	out := &syncBuffer{}
	r := examples.NewRunner(optiga.NewHost(optiga.NewLocal(c)), console.New(out))
	s := New(pr, r, WithWaitInterval(5*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- s.WaitForUser(context.Background()) }()

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "Please press ENTER key") >= 2
	}, 2*time.Second, 5*time.Millisecond)
	_, err = pw.Write([]byte("\n"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NoError(t, pw.Close())
}

func TestSelfTest(t *testing.T) {
	t.Parallel()

	s, out := newShell(t, "")
	require.NoError(t, s.Execute(context.Background(), "optiga --selftest"))

	got := out.String()
	assert.Equal(t, len(selftestOrder), strings.Count(got, "Example with pre/post steps takes "))
	assert.NotContains(t, got, "Error [")
	assert.Contains(t, got, "Deinitializing OPTIGA completed")
}

func TestPickerModel(t *testing.T) {
	t.Parallel()

	capture := NewCapture()
	c, err := chip.New()
	require.NoError(t, err)
	h := optiga.NewHost(optiga.NewLocal(c), optiga.WithSecretStore(datastore.NewMemory()))
	r := examples.NewRunner(h, console.New(capture), examples.WithExclusiveInit(false))
	s := New(strings.NewReader(""), r)

	m := newPickerModel(context.Background(), s, capture)
	require.Equal(t, "init", m.items[0].Name)

	var model tea.Model = m
	for i := 0; i < 13; i++ {
		model, _ = model.Update(tea.KeyMsg{Type: tea.KeyDown})
	}
	pm := model.(pickerModel)
	require.Equal(t, "random", pm.items[pm.cursor].Name)
	assert.Contains(t, pm.View(), "> random")

	model, cmd := model.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, model.(pickerModel).running)

	msg := cmd()
	model, _ = model.Update(msg)
	pm = model.(pickerModel)
	assert.False(t, pm.running)
	assert.False(t, pm.failed)
	assert.Contains(t, pm.output, "example_optiga_crypt_random")
	assert.Contains(t, pm.View(), "random: ok")

	_, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "c\nd\n", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\n", tail("a", 5))
}
