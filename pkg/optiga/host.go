package optiga

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// SecretStore keeps the platform binding secret shared with the chip.
type SecretStore interface {
	BindingSecret() ([]byte, error)
	SetBindingSecret(secret []byte) error
}

// ErrNoBindingSecret is returned by a SecretStore that was never paired.
var ErrNoBindingSecret = errors.New("no binding secret stored")

// Host is one logical connection to the chip. Frames from all instances
// created on a Host are serialised and carry the host's client id.
type Host struct {
	mu        sync.Mutex
	transport Transport
	client    uint32
	seq       uint32

	smu      sync.Mutex
	sessions [sessionCount]bool
	handle   []byte

	secrets SecretStore
	timeout time.Duration
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithSecretStore sets where the binding secret used for protected frames lives.
func WithSecretStore(s SecretStore) HostOption {
	return func(h *Host) { h.secrets = s }
}

// WithTimeout bounds every operation. Zero means no bound.
func WithTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.timeout = d }
}

// NewHost returns a Host speaking over t.
func NewHost(t Transport, opts ...HostOption) *Host {
	h := &Host{transport: t, client: uuid.New().ID(), timeout: 5 * time.Second}
	for _, o := range opts {
		o(h)
	}

	return h
}

// Secrets returns the binding secret store.
func (h *Host) Secrets() SecretStore {
	return h.secrets
}

// Close closes the transport.
func (h *Host) Close() error {
	return h.transport.Close()
}

func (h *Host) operationContext() (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(context.Background())
	}

	return context.WithTimeout(context.Background(), h.timeout)
}

// transceive sends cmd under level and returns the response fields.
func (h *Host) transceive(ctx context.Context, level ProtectionLevel, cmd apdu.Command) ([]apdu.Field, error) {
	var (
		key   []byte
		flags byte
	)
	if level != NoProtection {
		if h.secrets == nil {
			return nil, errorcodes.ErrCommsUnpaired
		}
		secret, err := h.secrets.BindingSecret()
		if err != nil || len(secret) == 0 {
			return nil, errorcodes.ErrCommsUnpaired
		}
		key = secret
		if level&ResponseProtection != 0 {
			flags |= apdu.FlagResponseProtect
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	seq := h.seq
	out, err := h.transport.Transmit(ctx, apdu.SealFor(h.client, flags, seq, cmd.Bytes(), key).Bytes())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", errorcodes.ErrCommsTimeout, err)
		}

		return nil, fmt.Errorf("%w: %v", errorcodes.ErrComms, err)
	}

	f, err := apdu.ParseFrame(out)
	if err != nil || f.Client != h.client || f.Seq != seq {
		return nil, errorcodes.ErrCmdInvalidResponse
	}
	// A protected response is authenticated before its status is trusted.
	if flags&apdu.FlagResponseProtect != 0 && !f.Verify(key) {
		log.Warn().
			Str("event", "response_integrity_failure").
			Str("command", apdu.CommandName(cmd.Code)).
			Msg("response MAC did not verify")

		return nil, errorcodes.ErrCommsIntegrity
	}
	r, err := apdu.ParseResponse(f.Payload)
	if err != nil {
		return nil, errorcodes.ErrCmdInvalidResponse
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	return r.Fields()
}

func (h *Host) acquireSession() (KeyID, error) {
	h.smu.Lock()
	defer h.smu.Unlock()

	for i, used := range h.sessions {
		if !used {
			h.sessions[i] = true

			return KeyID(sessionFirst + i), nil
		}
	}

	return 0, errorcodes.ErrCmdSessionsExhausted
}

func (h *Host) releaseSession(id KeyID) {
	h.smu.Lock()
	defer h.smu.Unlock()

	if i := int(id) - sessionFirst; i >= 0 && i < sessionCount {
		h.sessions[i] = false
	}
}

func (h *Host) setHandle(handle []byte) {
	h.smu.Lock()
	defer h.smu.Unlock()

	h.handle = handle
}

func (h *Host) contextHandle() []byte {
	h.smu.Lock()
	defer h.smu.Unlock()

	return h.handle
}
