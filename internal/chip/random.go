package chip

import (
	"crypto/rand"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// GetRandom params.
const (
	ParamRandomTRNG      byte = 0x00
	ParamRandomDRNG      byte = 0x01
	ParamRandomPreMaster byte = 0x04
)

const (
	minRandom    = 8
	maxRandom    = 256
	minPreMaster = 8
	maxPreMaster = 256
)

func (c *Chip) executeGetRandom(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	n, ok := cmd.Uint16(apdu.TagLength)
	if !ok {
		return nil, errorcodes.Err8005
	}

	switch cmd.Param {
	case ParamRandomTRNG, ParamRandomDRNG:
		if n < minRandom || n > maxRandom {
			return nil, errorcodes.Err8005
		}
		out, err := randomBytes(int(n))
		if err != nil {
			return nil, err
		}

		return []apdu.Field{apdu.Bytes(apdu.TagData, out)}, nil
	case ParamRandomPreMaster:
		optional, _ := cmd.Get(apdu.TagOptional)
		if int(n) <= len(optional) || n < minPreMaster || n > maxPreMaster {
			return nil, errorcodes.Err8005
		}
		target, ok := cmd.Uint16(apdu.TagContext)
		if !ok || !isSession(target) {
			return nil, errorcodes.Err8001
		}
		random, err := randomBytes(int(n) - len(optional))
		if err != nil {
			return nil, err
		}
		c.sessions[target-OIDSession1] = &object{
			data: append(append([]byte(nil), optional...), random...),
			md:   metadata.Metadata{},
		}

		return nil, nil
	default:
		return nil, errorcodes.Err8003
	}
}

// executeGenAuthCode returns a random challenge prefixed with the optional
// data; a following HMAC verify must cover exactly optional||random.
func (c *Chip) executeGenAuthCode(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	n, ok := cmd.Uint16(apdu.TagLength)
	if !ok || n < minRandom || n > maxRandom {
		return nil, errorcodes.Err8005
	}
	optional, _ := cmd.Get(apdu.TagOptional)
	random, err := randomBytes(int(n))
	if err != nil {
		return nil, err
	}
	c.authCode = append(append([]byte(nil), optional...), random...)

	return []apdu.Field{apdu.Bytes(apdu.TagData, random)}, nil
}

func (c *Chip) executeClearAutoState(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	oid, ok := cmd.Uint16(apdu.TagSecretOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	if _, _, err := c.secretFor(oid, req, metadata.TypeAuthReference); err != nil {
		return nil, err
	}
	delete(c.autoState, oid)

	return nil, nil
}

func randomBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, errorcodes.Err8006
	}

	return out, nil
}
