package chip

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
)

// Signature scheme params of CalcSign and VerifySign.
const (
	ParamRSAPKCS1SHA256 byte = 0x01
	ParamECDSA          byte = 0x11
)

func (c *Chip) executeCalcSign(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	digest, ok := cmd.Get(apdu.TagDigest)
	if !ok || len(digest) == 0 {
		return nil, errorcodes.Err8005
	}
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	obj, err := c.keyFor(oid, UsageSign, req)
	if err != nil {
		return nil, err
	}

	switch cmd.Param {
	case ParamECDSA:
		key, ok := obj.key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errorcodes.Err8005
		}
		asn, err := ecdsa.SignASN1(rand.Reader, key, digest)
		if err != nil {
			return nil, errorcodes.Err8006
		}
		sig, err := cryptoutils.SignatureFromASN1(asn)
		if err != nil {
			return nil, errorcodes.Err8006
		}

		return []apdu.Field{apdu.Bytes(apdu.TagSignature, sig)}, nil
	case ParamRSAPKCS1SHA256:
		key, ok := obj.key.(*rsa.PrivateKey)
		if !ok || len(digest) != crypto.SHA256.Size() {
			return nil, errorcodes.Err8005
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest)
		if err != nil {
			return nil, errorcodes.Err8006
		}

		return []apdu.Field{apdu.Bytes(apdu.TagSignature, sig)}, nil
	default:
		return nil, errorcodes.Err8003
	}
}

func (c *Chip) executeVerifySign(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	digest, ok := cmd.Get(apdu.TagDigest)
	if !ok {
		return nil, errorcodes.Err8005
	}
	sig, ok := cmd.Get(apdu.TagSignature)
	if !ok {
		return nil, errorcodes.Err8005
	}
	pubDER, ok := cmd.Get(apdu.TagPublicKey)
	if !ok {
		return nil, errorcodes.Err8005
	}
	alg, _ := cmd.Byte(apdu.TagAlgorithm)

	switch cmd.Param {
	case ParamECDSA:
		curve, err := curveFor(alg)
		if err != nil {
			return nil, err
		}
		pub, err := cryptoutils.DecodeECCPublicKey(pubDER, curve)
		if err != nil {
			return nil, errorcodes.Err8005
		}
		asn, err := cryptoutils.SignatureToASN1(sig)
		if err != nil {
			return nil, errorcodes.Err8005
		}
		if !ecdsa.VerifyASN1(pub, digest, asn) {
			return nil, errorcodes.Err802C
		}
	case ParamRSAPKCS1SHA256:
		pub, err := cryptoutils.DecodeRSAPublicKey(pubDER)
		if err != nil {
			return nil, errorcodes.Err8005
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
			return nil, errorcodes.Err802C
		}
	default:
		return nil, errorcodes.Err8003
	}

	return nil, nil
}

func curveFor(alg byte) (elliptic.Curve, error) {
	switch alg {
	case AlgECCP256:
		return elliptic.P256(), nil
	case AlgECCP384:
		return elliptic.P384(), nil
	default:
		return nil, errorcodes.Err8005
	}
}
