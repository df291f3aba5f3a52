// Package examples holds the demonstration programs run by the shell. Each
// example drives the host driver against a chip, waits on the completion of
// every operation and logs its outcome to the console.
package examples

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/console"
	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

// ErrMismatch is returned when the chip answers but the result differs from
// what the example expects.
var ErrMismatch = errors.New("example result mismatch")

// Runner runs examples on one Host.
type Runner struct {
	host          *optiga.Host
	out           *console.Console
	exclusiveInit bool
	timeout       time.Duration

	mu        sync.Mutex
	shellUtil *optiga.Util
	shellDone *optiga.Completion

	anchorOnce sync.Once
	anchor     *trustAnchor
	anchorErr  error
}

// Option configures a Runner.
type Option func(*Runner)

// WithExclusiveInit selects whether the application is opened once by Init
// (true) or by every example around its own body (false).
func WithExclusiveInit(exclusive bool) Option {
	return func(r *Runner) { r.exclusiveInit = exclusive }
}

// WithTimeout bounds the wait for every single operation.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRunner returns a Runner logging to out.
func NewRunner(h *optiga.Host, out *console.Console, opts ...Option) *Runner {
	r := &Runner{
		host:          h,
		out:           out,
		exclusiveInit: true,
		timeout:       5 * time.Second,
	}
	for _, o := range opts {
		o(r)
	}

	return r
}

// Host returns the driver host the examples run on.
func (r *Runner) Host() *optiga.Host {
	return r.host
}

// Console returns the output the examples log to.
func (r *Runner) Console() *console.Console {
	return r.out
}

// ExclusiveInit reports whether Init manages the application for all examples.
func (r *Runner) ExclusiveInit() bool {
	return r.exclusiveInit
}

// env is the per-example state: one util and one crypt instance sharing a
// completion, and the time spent in the measured part of the example.
type env struct {
	ctx     context.Context
	timeout time.Duration
	done    *optiga.Completion
	util    *optiga.Util
	crypt   *optiga.Crypt
	took    time.Duration
}

// wait starts an operation and blocks until its callback fires.
func (e *env) wait(call func() error) error {
	return waitFor(e.ctx, e.timeout, e.done, call)
}

// measure runs fn and adds its duration to the reported example time.
func (e *env) measure(fn func() error) error {
	start := time.Now()
	err := fn()
	e.took += time.Since(start)

	return err
}

func (e *env) destroy() {
	if e.crypt != nil {
		if err := e.crypt.Destroy(); err != nil {
			log.Warn().Str("event", "instance_destroy_failed").Err(err).Msg("crypt destroy failed")
		}
	}
	if e.util != nil {
		if err := e.util.Destroy(); err != nil {
			log.Warn().Str("event", "instance_destroy_failed").Err(err).Msg("util destroy failed")
		}
	}
}

func waitFor(ctx context.Context, timeout time.Duration, done *optiga.Completion, call func() error) error {
	done.Reset()
	if err := call(); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return done.Wait(wctx)
}

func (r *Runner) newEnv(ctx context.Context) (*env, error) {
	e := &env{ctx: ctx, timeout: r.timeout, done: optiga.NewCompletion()}
	var err error
	if e.util, err = r.host.NewUtil(e.done.Callback()); err != nil {
		return nil, err
	}
	if e.crypt, err = r.host.NewCrypt(e.done.Callback()); err != nil {
		return nil, err
	}

	return e, nil
}

// run executes one example. With manage set and exclusive init disabled the
// application is opened before and closed after body.
func (r *Runner) run(ctx context.Context, name string, manage bool, body func(e *env) error) error {
	e, err := r.newEnv(ctx)
	if err != nil {
		r.logStatus(err)

		return err
	}
	defer e.destroy()

	own := manage && !r.exclusiveInit
	if own {
		if err := e.wait(func() error { return e.util.OpenApplication(false) }); err != nil {
			r.logStatus(err)

			return err
		}
	}

	r.out.Examplef("%s", name)
	err = body(e)
	r.logStatus(err)

	if own {
		if cerr := e.wait(func() error { return e.util.CloseApplication(false) }); cerr != nil {
			r.logStatus(cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	if err == nil {
		r.out.Examplef("Example takes %d msec", e.took.Milliseconds())
	}

	log.Debug().
		Str("event", "example_done").
		Str("example", name).
		Dur("took", e.took).
		Bool("ok", err == nil).
		Msg("example finished")

	return err
}

// logStatus prints the status line of a failed step.
func (r *Runner) logStatus(err error) {
	if err == nil {
		return
	}
	r.out.Examplef("Error [0x%04X]", errorcodes.CodeOf(err))
	log.Debug().Str("event", "example_failed").Err(err).Msg("example step failed")
}

// util returns the long-lived util instance used by Init and Deinit.
func (r *Runner) util() (*optiga.Util, *optiga.Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.shellUtil == nil {
		done := optiga.NewCompletion()
		u, err := r.host.NewUtil(done.Callback())
		if err != nil {
			return nil, nil, err
		}
		r.shellUtil, r.shellDone = u, done
	}

	return r.shellUtil, r.shellDone, nil
}

// Init opens the application, pairs host and chip and raises the current
// limitation to its maximum.
func (r *Runner) Init(ctx context.Context) error {
	err := r.init(ctx)
	r.logStatus(err)

	return err
}

func (r *Runner) init(ctx context.Context) error {
	u, done, err := r.util()
	if err != nil {
		return err
	}
	r.out.Examplef("Initializing OPTIGA for example demonstration...\n")
	if err := waitFor(ctx, r.timeout, done, func() error { return u.OpenApplication(false) }); err != nil {
		return err
	}
	r.out.Shellf("Initializing OPTIGA completed...\n\n")

	r.out.Shellf("Begin pairing of host and OPTIGA...")
	// a failed pairing is reported by the pairing example itself
	_ = r.run(ctx, namePairHost, false, r.pairHost)
	r.out.Shellf("Pairing of host and OPTIGA completed...")

	err = waitFor(ctx, r.timeout, done, func() error {
		return u.WriteData(optiga.OIDCurrentLimitation, optiga.EraseAndWrite, 0, []byte{maxCurrent})
	})
	if err != nil {
		return err
	}
	r.out.Shellf("Setting current limitation to maximum...")
	r.out.Shellf("Starting OPTIGA example demonstration..\n")

	return nil
}

// Deinit closes the application.
func (r *Runner) Deinit(ctx context.Context) error {
	u, done, err := r.util()
	if err != nil {
		r.logStatus(err)

		return err
	}
	r.out.Shellf("Deinitializing OPTIGA for example demonstration...")
	err = waitFor(ctx, r.timeout, done, func() error { return u.CloseApplication(false) })
	if err != nil {
		r.out.Shellf("OPTIGA util close application failed\n")
		r.logStatus(err)
	}
	r.out.Shellf("Deinitializing OPTIGA completed")

	return err
}

// trustAnchor returns the signer shared by the write data and protected
// update examples.
func (r *Runner) trustAnchor() (*trustAnchor, error) {
	r.anchorOnce.Do(func() {
		r.anchor, r.anchorErr = newTrustAnchor()
	})

	return r.anchor, r.anchorErr
}

const maxCurrent = 15
