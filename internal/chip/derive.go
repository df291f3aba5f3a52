package chip

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// DeriveKey params.
const (
	ParamTLSPRFSHA256 byte = 0x01
	ParamHKDFSHA256   byte = 0x08
)

const (
	minDerived = 16
	maxDerived = 256
)

func (c *Chip) executeDeriveKey(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	oid, ok := cmd.Uint16(apdu.TagSecretOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	n, ok := cmd.Uint16(apdu.TagLength)
	if !ok || n < minDerived || n > maxDerived {
		return nil, errorcodes.Err8005
	}
	secret, _, err := c.secretFor(oid, req, metadata.TypePreSharedSec)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch cmd.Param {
	case ParamTLSPRFSHA256:
		label, _ := cmd.Get(apdu.TagLabel)
		seed, _ := cmd.Get(apdu.TagSeed)
		out = cryptoutils.TLSPRFSHA256(secret, label, seed, int(n))
	case ParamHKDFSHA256:
		salt, _ := cmd.Get(apdu.TagSalt)
		info, _ := cmd.Get(apdu.TagInfo)
		out = make([]byte, n)
		if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
			return nil, errorcodes.Err8006
		}
	default:
		return nil, errorcodes.Err8003
	}

	return c.emitSecret(cmd, out)
}
