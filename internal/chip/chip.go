// Package chip implements a software secure element. It executes the
// driver's transport frames against an in-memory object store using the Go
// crypto packages.
package chip

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// Application states.
const (
	StateClosed     = "closed"
	StateOpen       = "open"
	StateHibernated = "hibernated"
)

const sessionCount = 4

type handler func(cmd apdu.Command, req *request) ([]apdu.Field, error)

// Chip is a software secure element. It is safe for concurrent use; frames are
// executed one at a time.
type Chip struct {
	mu sync.Mutex

	objects  map[uint16]*object
	sessions [sessionCount]*object
	handlers map[byte]handler

	state     string
	handle    []byte // hibernate context handle
	saved     [sessionCount]*object
	lastSeq   map[uint32]uint32 // per client
	autoState map[uint16]bool
	authCode  []byte
	update    *updateState

	sec        int
	secUpdated time.Time
	secDecay   time.Duration
	now        func() time.Time

	lastErrors []byte

	frames      atomic.Uint64
	failures    atomic.Uint64
	macFailures atomic.Uint64
	commands    map[byte]*atomic.Uint64
}

// Option configures a Chip.
type Option func(*Chip)

// WithClock replaces the wall clock used for security event counter decay.
func WithClock(now func() time.Time) Option {
	return func(c *Chip) { c.now = now }
}

// WithSecurityDecay sets how long the security event counter takes to drop by one.
// Zero disables decay.
func WithSecurityDecay(d time.Duration) Option {
	return func(c *Chip) { c.secDecay = d }
}

// New returns a factory-fresh chip.
func New(opts ...Option) (*Chip, error) {
	c := &Chip{
		state:     StateClosed,
		autoState: map[uint16]bool{},
		lastSeq:   map[uint32]uint32{},
		secDecay:  100 * time.Millisecond,
		now:       time.Now,
		commands:  map[byte]*atomic.Uint64{},
	}
	for _, o := range opts {
		o(c)
	}
	c.secUpdated = c.now()
	c.handlers = map[byte]handler{
		apdu.CmdOpenApplication:    c.executeOpenApplication,
		apdu.CmdCloseApplication:   c.executeCloseApplication,
		apdu.CmdGetDataObject:      c.executeGetDataObject,
		apdu.CmdSetDataObject:      c.executeSetDataObject,
		apdu.CmdSetObjectProtected: c.executeSetObjectProtected,
		apdu.CmdGetRandom:          c.executeGetRandom,
		apdu.CmdGenAuthCode:        c.executeGenAuthCode,
		apdu.CmdEncryptSym:         c.executeEncryptSym,
		apdu.CmdDecryptSym:         c.executeDecryptSym,
		apdu.CmdClearAutoState:     c.executeClearAutoState,
		apdu.CmdEncryptAsym:        c.executeEncryptAsym,
		apdu.CmdDecryptAsym:        c.executeDecryptAsym,
		apdu.CmdCalcHash:           c.executeCalcHash,
		apdu.CmdCalcSign:           c.executeCalcSign,
		apdu.CmdVerifySign:         c.executeVerifySign,
		apdu.CmdCalcSSec:           c.executeCalcSSec,
		apdu.CmdDeriveKey:          c.executeDeriveKey,
		apdu.CmdGenKeyPair:         c.executeGenKeyPair,
		apdu.CmdGenSymKey:          c.executeGenSymKey,
	}
	for code := range c.handlers {
		c.commands[code] = atomic.NewUint64(0)
	}
	if err := c.provision(); err != nil {
		return nil, err
	}

	return c, nil
}

// Execute runs one transport frame and returns the transport response frame.
func (c *Chip) Execute(frame []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames.Inc()

	f, err := apdu.ParseFrame(frame)
	if err != nil {
		return c.fail(apdu.Frame{}, errorcodes.Err8004, nil)
	}

	req := &request{}
	var key []byte
	if f.Protected() {
		key = c.objects[OIDBindingSecret].data
		if len(key) == 0 || !f.Verify(key) || f.Seq <= c.lastSeq[f.Client] {
			c.macFailures.Inc()
			c.raiseSecurityEvent()
			log.Warn().
				Str("event", "integrity_failure").
				Uint32("client", f.Client).
				Uint32("seq", f.Seq).
				Msg("rejected protected frame")

			return c.fail(f, errorcodes.Err802D, nil)
		}
		c.acceptSeq(f.Client, f.Seq)
		req.protected = true
	}
	var respKey []byte
	if req.protected && f.Flags&apdu.FlagResponseProtect != 0 {
		respKey = key
	}

	cmd, err := apdu.ParseCommand(f.Payload)
	if err != nil {
		return c.fail(f, errorcodes.Err8004, respKey)
	}
	h, ok := c.handlers[cmd.Code]
	if !ok {
		return c.fail(f, errorcodes.Err800A, respKey)
	}
	c.commands[cmd.Code].Inc()

	if c.state != StateOpen && cmd.Code != apdu.CmdOpenApplication {
		return c.fail(f, errorcodes.Err800B, respKey)
	}

	fields, err := h(cmd, req)
	if err != nil {
		log.Debug().
			Str("event", "command_failed").
			Str("command", apdu.CommandName(cmd.Code)).
			Err(err).
			Msg("chip command failed")

		return c.fail(f, err, respKey)
	}

	return apdu.SealFor(f.Client, 0, f.Seq, apdu.Success(fields...).Bytes(), respKey).Bytes()
}

// acceptSeq records seq as the newest protected frame of client. Past
// maxClients the window of some other client is dropped.
func (c *Chip) acceptSeq(client, seq uint32) {
	if _, ok := c.lastSeq[client]; !ok && len(c.lastSeq) >= maxClients {
		for k := range c.lastSeq {
			delete(c.lastSeq, k)

			break
		}
	}
	c.lastSeq[client] = seq
}

func (c *Chip) fail(req apdu.Frame, err error, key []byte) []byte {
	c.failures.Inc()
	code := errorcodes.CodeOf(err)
	var st errorcodes.Status
	if !errors.As(err, &st) || !st.IsDevice() {
		code = errorcodes.Err80FF.Code
	}
	c.lastErrors = append(c.lastErrors, byte(code))
	if len(c.lastErrors) > maxLastErrors {
		c.lastErrors = c.lastErrors[len(c.lastErrors)-maxLastErrors:]
	}

	return apdu.SealFor(req.Client, 0, req.Seq, apdu.Failure(code).Bytes(), key).Bytes()
}

// securityCounter returns the decayed security event counter.
func (c *Chip) securityCounter() int {
	if c.sec == 0 || c.secDecay <= 0 {
		return c.sec
	}
	steps := int(c.now().Sub(c.secUpdated) / c.secDecay)
	if steps <= 0 {
		return c.sec
	}
	if steps >= c.sec {
		c.sec = 0
		c.secUpdated = c.now()

		return 0
	}
	c.sec -= steps
	c.secUpdated = c.secUpdated.Add(time.Duration(steps) * c.secDecay)

	return c.sec
}

func (c *Chip) raiseSecurityEvent() {
	v := c.securityCounter()
	if v == 0 {
		c.secUpdated = c.now()
	}
	if v < 255 {
		c.sec = v + 1
	}
}

// Stats is a point-in-time view of chip activity.
type Stats struct {
	State           string            `json:"state"`
	Frames          uint64            `json:"frames"`
	Failures        uint64            `json:"failures"`
	MACFailures     uint64            `json:"mac_failures"`
	SecurityCounter int               `json:"security_event_counter"`
	Commands        map[string]uint64 `json:"commands"`
}

// Stats returns command counters and state.
func (c *Chip) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds := make(map[string]uint64, len(c.commands))
	for code, n := range c.commands {
		if v := n.Load(); v > 0 {
			cmds[apdu.CommandName(code)] = v
		}
	}

	return Stats{
		State:           c.state,
		Frames:          c.frames.Load(),
		Failures:        c.failures.Load(),
		MACFailures:     c.macFailures.Load(),
		SecurityCounter: c.securityCounter(),
		Commands:        cmds,
	}
}
