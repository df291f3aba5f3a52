package chip

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// OpenApplication params.
const (
	ParamOpenFresh   byte = 0x00
	ParamOpenRestore byte = 0x01
)

// CloseApplication params.
const (
	ParamClose     byte = 0x00
	ParamHibernate byte = 0x01
)

const contextHandleSize = 8

func (c *Chip) executeOpenApplication(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	switch cmd.Param {
	case ParamOpenFresh:
		c.sessions = [sessionCount]*object{}
		c.saved = [sessionCount]*object{}
		c.handle = nil
	case ParamOpenRestore:
		h, ok := cmd.Get(apdu.TagHandle)
		if c.state != StateHibernated || !ok || c.handle == nil ||
			subtle.ConstantTimeCompare(h, c.handle) != 1 {
			return nil, errorcodes.Err8005
		}
		c.sessions = c.saved
		c.saved = [sessionCount]*object{}
		c.handle = nil
	default:
		return nil, errorcodes.Err8003
	}
	c.state = StateOpen
	c.autoState = map[uint16]bool{}
	c.update = nil

	log.Debug().Str("event", "application_opened").Bool("restored", cmd.Param == ParamOpenRestore).
		Msg("chip application opened")

	return nil, nil
}

func (c *Chip) executeCloseApplication(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	switch cmd.Param {
	case ParamClose:
		c.sessions = [sessionCount]*object{}
		c.state = StateClosed
		c.handle = nil

		return nil, nil
	case ParamHibernate:
		if c.securityCounter() != 0 {
			return nil, errorcodes.Err8007
		}
		handle := make([]byte, contextHandleSize)
		if _, err := rand.Read(handle); err != nil {
			return nil, errorcodes.Err8006
		}
		c.saved = c.sessions
		c.sessions = [sessionCount]*object{}
		c.handle = handle
		c.state = StateHibernated

		return []apdu.Field{apdu.Bytes(apdu.TagHandle, handle)}, nil
	default:
		return nil, errorcodes.Err8003
	}
}
