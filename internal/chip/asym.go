package chip

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
)

// ParamRSAESPKCS1 selects RSAES PKCS#1 v1.5 in EncryptAsym and DecryptAsym.
const ParamRSAESPKCS1 byte = 0x11

// executeEncryptAsym encrypts either the message in TagData or, when TagOID
// names a session, the secret held in that session.
func (c *Chip) executeEncryptAsym(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	if cmd.Param != ParamRSAESPKCS1 {
		return nil, errorcodes.Err8003
	}
	pubDER, ok := cmd.Get(apdu.TagPublicKey)
	if !ok {
		return nil, errorcodes.Err8005
	}
	pub, err := cryptoutils.DecodeRSAPublicKey(pubDER)
	if err != nil {
		return nil, errorcodes.Err8005
	}

	msg, ok := cmd.Get(apdu.TagData)
	if oid, hasOID := cmd.Uint16(apdu.TagOID); hasOID {
		if !isSession(oid) {
			return nil, errorcodes.Err8001
		}
		s, err := c.lookup(oid)
		if err != nil {
			return nil, err
		}
		if len(s.data) == 0 {
			return nil, errorcodes.Err8005
		}
		msg, ok = s.data, true
	}
	if !ok {
		return nil, errorcodes.Err8005
	}

	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, msg)
	if err != nil {
		return nil, errorcodes.Err8005
	}

	return []apdu.Field{apdu.Bytes(apdu.TagData, out)}, nil
}

func (c *Chip) executeDecryptAsym(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	if cmd.Param != ParamRSAESPKCS1 {
		return nil, errorcodes.Err8003
	}
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	obj, err := c.keyFor(oid, UsageEncryption, req)
	if err != nil {
		return nil, err
	}
	key, ok := obj.key.(*rsa.PrivateKey)
	if !ok {
		return nil, errorcodes.Err8005
	}
	in, ok := cmd.Get(apdu.TagData)
	if !ok {
		return nil, errorcodes.Err8005
	}
	plain, err := rsa.DecryptPKCS1v15(rand.Reader, key, in)
	if err != nil {
		return nil, errorcodes.Err802E
	}

	return c.emitSecret(cmd, plain)
}
