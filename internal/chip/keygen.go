package chip

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// executeGenKeyPair generates an ECC or RSA key pair. The public key is always
// returned; with export set the private key is returned instead of stored.
func (c *Chip) executeGenKeyPair(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	usage, _ := cmd.Byte(apdu.TagUsage)
	export, _ := cmd.Byte(apdu.TagExport)

	var (
		key     any
		pub     []byte
		private []byte
	)
	switch cmd.Param {
	case AlgECCP256, AlgECCP384:
		curve, _ := curveFor(cmd.Param)
		k, err := ecdsa.GenerateKey(curve, rand.Reader)
		if err != nil {
			return nil, errorcodes.Err8006
		}
		key, pub = k, cryptoutils.MarshalECCPublicKey(&k.PublicKey)
		private = k.D.FillBytes(make([]byte, (curve.Params().BitSize+7)/8))
	case AlgRSA1024, AlgRSA2048:
		bits := 1024
		if cmd.Param == AlgRSA2048 {
			bits = 2048
		}
		k, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, errorcodes.Err8006
		}
		key, pub = k, cryptoutils.EncodeRSAPublicKey(&k.PublicKey)
		private = k.D.FillBytes(make([]byte, bits/8))
	default:
		return nil, errorcodes.Err8003
	}

	if export == 1 {
		return []apdu.Field{apdu.Bytes(apdu.TagPublicKey, pub), apdu.Bytes(apdu.TagData, private)}, nil
	}

	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, errorcodes.Err8005
	}
	if err := c.storeKey(oid, key, cmd.Param, usage, req); err != nil {
		return nil, err
	}

	return []apdu.Field{apdu.Bytes(apdu.TagPublicKey, pub)}, nil
}

func (c *Chip) executeGenSymKey(cmd apdu.Command, req *request) ([]apdu.Field, error) {
	var size int
	switch cmd.Param {
	case AlgAES128:
		size = 16
	case AlgAES192:
		size = 24
	case AlgAES256:
		size = 32
	default:
		return nil, errorcodes.Err8003
	}
	usage, _ := cmd.Byte(apdu.TagUsage)
	export, _ := cmd.Byte(apdu.TagExport)
	key, err := randomBytes(size)
	if err != nil {
		return nil, err
	}
	if export == 1 {
		return []apdu.Field{apdu.Bytes(apdu.TagData, key)}, nil
	}
	oid, ok := cmd.Uint16(apdu.TagOID)
	if !ok {
		return nil, errorcodes.Err8005
	}

	return nil, c.storeKey(oid, key, cmd.Param, usage, req)
}

// storeKey places key into a key slot or session context.
func (c *Chip) storeKey(oid uint16, key any, alg, usage byte, req *request) error {
	md := metadata.Metadata{}.Set(metadata.TagAlgorithm, alg).Set(metadata.TagKeyUsage, usage)
	if isSession(oid) {
		c.sessions[oid-OIDSession1] = &object{key: key, md: md}

		return nil
	}
	obj, ok := c.objects[oid]
	if !ok || obj.md.MaxSize() != 0 {
		return errorcodes.Err8001
	}
	if !c.allowed(obj, metadata.TagChange, req) {
		return errorcodes.Err8007
	}
	if !slotAccepts(oid, alg) {
		return errorcodes.Err8005
	}
	obj.key = key
	obj.md.Merge(md)

	return nil
}

func slotAccepts(oid uint16, alg byte) bool {
	switch {
	case oid >= OIDDeviceKey && oid <= OIDECCKey3:
		return alg == AlgECCP256 || alg == AlgECCP384
	case oid == OIDRSAKey1 || oid == OIDRSAKey2:
		return alg == AlgRSA1024 || alg == AlgRSA2048
	case oid == OIDAESKey:
		return alg == AlgAES128 || alg == AlgAES192 || alg == AlgAES256
	}

	return false
}
