package chip

import (
	"crypto/ecdsa"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// ParamECDH selects the elliptic-curve Diffie-Hellman shared secret.
const ParamECDH byte = 0x01

func (c *Chip) executeCalcSSec(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	if cmd.Param != ParamECDH {
		return nil, errorcodes.Err8003
	}
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	obj, err := c.keyFor(oid, UsageKeyAgreement, req)
	if err != nil {
		return nil, err
	}
	priv, ok := obj.key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errorcodes.Err8005
	}
	peerDER, ok := cmd.Get(apdu.TagPublicKey)
	if !ok {
		return nil, errorcodes.Err8005
	}
	alg, _ := cmd.Byte(apdu.TagAlgorithm)
	curve, err := curveFor(alg)
	if err != nil {
		return nil, err
	}
	if curve != priv.Curve {
		return nil, errorcodes.Err8005
	}
	peer, err := cryptoutils.DecodeECCPublicKey(peerDER, curve)
	if err != nil {
		return nil, errorcodes.Err8005
	}

	ourKey, err := priv.ECDH()
	if err != nil {
		return nil, errorcodes.Err8006
	}
	peerKey, err := peer.ECDH()
	if err != nil {
		return nil, errorcodes.Err8005
	}
	secret, err := ourKey.ECDH(peerKey)
	if err != nil {
		return nil, errorcodes.Err8005
	}

	return c.emitSecret(cmd, secret)
}

// emitSecret exports secret or stores it into the session named by TagContext.
func (c *Chip) emitSecret(cmd apdu.Command, secret []byte) ([]apdu.Field, error) {
	if export, _ := cmd.Byte(apdu.TagExport); export == 1 {
		return []apdu.Field{apdu.Bytes(apdu.TagData, secret)}, nil
	}
	target, ok := cmd.Uint16(apdu.TagContext)
	if !ok || !isSession(target) {
		return nil, errorcodes.Err8001
	}
	c.sessions[target-OIDSession1] = &object{data: secret, md: metadata.Metadata{}}

	return nil, nil
}
