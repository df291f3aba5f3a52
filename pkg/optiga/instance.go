package optiga

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/internal/logging"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// errNilCallback is returned when an instance is created without a callback.
var errNilCallback = errors.New("optiga: nil callback")

// instance is the state shared by Util and Crypt: one outstanding operation,
// a one-shot protection level and the completion callback.
type instance struct {
	id       uuid.UUID
	layer    string
	host     *Host
	callback Callback
	busy     atomic.Bool
	busyErr  errorcodes.Status
	invalid  errorcodes.Status

	mu         sync.Mutex
	protection ProtectionLevel
}

func newInstance(h *Host, layer string, cb Callback, busyErr, invalid errorcodes.Status) (*instance, error) {
	if h == nil || cb == nil {
		return nil, errNilCallback
	}

	return &instance{
		id:       uuid.New(),
		layer:    layer,
		host:     h,
		callback: cb,
		busyErr:  busyErr,
		invalid:  invalid,
	}, nil
}

// ID identifies the instance in logs.
func (in *instance) ID() string {
	return in.id.String()
}

// SetProtectionLevel shields the next operation only.
func (in *instance) SetProtectionLevel(level ProtectionLevel) {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.protection = level
}

// start runs op asynchronously. It fails immediately when another operation
// is outstanding on this instance.
func (in *instance) start(op string, fn func(ctx context.Context, level ProtectionLevel) error) error {
	if !in.busy.CompareAndSwap(false, true) {
		return in.busyErr
	}
	in.mu.Lock()
	level := in.protection
	in.protection = NoProtection
	in.mu.Unlock()

	go func() {
		ctx, cancel := in.host.operationContext()
		defer cancel()

		err := fn(ctx, level)
		logging.LogOperation(in.id.String(), in.layer, op, err)
		in.busy.Store(false)
		in.callback(err)
	}()

	return nil
}

// send is start for operations made of a single command whose response
// fields are handled by out.
func (in *instance) send(cmd apdu.Command, out func([]apdu.Field) error) error {
	return in.start(apdu.CommandName(cmd.Code), func(ctx context.Context, level ProtectionLevel) error {
		fields, err := in.host.transceive(ctx, level, cmd)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}

		return out(fields)
	})
}

// into returns an out handler copying the value of tag into dst.
func into(dst *[]byte, tag byte) func([]apdu.Field) error {
	return func(fields []apdu.Field) error {
		v, ok := apdu.Lookup(fields, tag)
		if !ok {
			return errorcodes.ErrCmdInvalidResponse
		}
		*dst = append((*dst)[:0], v...)

		return nil
	}
}

func (in *instance) isBusy() bool {
	return in.busy.Load()
}
