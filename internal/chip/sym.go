package chip

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// Symmetric modes of EncryptSym and DecryptSym.
const (
	ModeECB        byte = 0x08
	ModeCBC        byte = 0x09
	ModeCBCMAC     byte = 0x0A
	ModeHMACSHA256 byte = 0x20
)

func (c *Chip) executeEncryptSym(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	in, _ := cmd.Get(apdu.TagData)
	if cmd.Param == ModeHMACSHA256 {
		mac, err := c.hmacWith(cmd, req, in, metadata.TypePreSharedSec)
		if err != nil {
			return nil, err
		}

		return []apdu.Field{apdu.Bytes(apdu.TagData, mac)}, nil
	}

	key, block, err := c.aesKey(cmd, req)
	if err != nil {
		return nil, err
	}
	if len(in) == 0 || len(in)%aes.BlockSize != 0 {
		return nil, errorcodes.Err8005
	}
	out := make([]byte, len(in))
	switch cmd.Param {
	case ModeECB:
		cryptoutils.NewECBEncrypter(block).CryptBlocks(out, in)
	case ModeCBC:
		iv, err := ivFrom(cmd)
		if err != nil {
			return nil, err
		}
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, in)
	case ModeCBCMAC:
		if out, err = cryptoutils.CBCMAC(key, in); err != nil {
			return nil, errorcodes.Err8005
		}
	default:
		return nil, errorcodes.Err8003
	}

	return []apdu.Field{apdu.Bytes(apdu.TagData, out)}, nil
}

func (c *Chip) executeDecryptSym(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	in, _ := cmd.Get(apdu.TagData)
	if cmd.Param == ModeHMACSHA256 {
		return nil, c.verifyAuthorization(cmd, req, in)
	}

	_, block, err := c.aesKey(cmd, req)
	if err != nil {
		return nil, err
	}
	if len(in) == 0 || len(in)%aes.BlockSize != 0 {
		return nil, errorcodes.Err8005
	}
	out := make([]byte, len(in))
	switch cmd.Param {
	case ModeECB:
		cryptoutils.NewECBDecrypter(block).CryptBlocks(out, in)
	case ModeCBC:
		iv, err := ivFrom(cmd)
		if err != nil {
			return nil, err
		}
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, in)
	default:
		return nil, errorcodes.Err8003
	}

	return []apdu.Field{apdu.Bytes(apdu.TagData, out)}, nil
}

// verifyAuthorization checks an HMAC over the pending authorization code and
// sets the auto state of the reference secret on success.
func (c *Chip) verifyAuthorization(cmd apdu.Command, req *request, in []byte) error {
	mac, ok := cmd.Get(apdu.TagMAC)
	if !ok {
		return errorcodes.Err8005
	}
	oid, _ := cmd.Uint16(apdu.TagSecretOID)
	challenge := c.authCode
	c.authCode = nil
	if challenge == nil || !hmac.Equal(challenge, in) {
		return errorcodes.Err8005
	}
	want, err := c.hmacWith(cmd, req, in, metadata.TypeAuthReference)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, mac) {
		delete(c.autoState, oid)

		return errorcodes.Err802C
	}
	c.autoState[oid] = true

	return nil
}

func (c *Chip) hmacWith(cmd apdu.Command, req *request, in []byte, typ byte) ([]byte, error) {
	oid, ok := cmd.Uint16(apdu.TagSecretOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	secret, _, err := c.secretFor(oid, req, typ)
	if err != nil {
		return nil, err
	}
	m := hmac.New(sha256.New, secret)
	m.Write(in)

	return m.Sum(nil), nil
}

func (c *Chip) aesKey(cmd apdu.Command, req *request) ([]byte, cipher.Block, error) {
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, nil, errorcodes.Err8005
	}
	obj, err := c.keyFor(oid, UsageEncryption, req)
	if err != nil {
		return nil, nil, err
	}
	key, ok := obj.key.([]byte)
	if !ok {
		return nil, nil, errorcodes.Err8005
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, errorcodes.Err8006
	}

	return key, block, nil
}

func ivFrom(cmd apdu.Command) ([]byte, error) {
	iv, ok := cmd.Get(apdu.TagIV)
	if !ok || len(iv) != aes.BlockSize {
		return nil, errorcodes.Err8005
	}

	return iv, nil
}
