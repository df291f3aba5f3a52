package optiga

import (
	"crypto/rsa"
	"math/big"

	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// EncodeECCPublicKey wraps an uncompressed X||Y point for use as PublicKeyFromHost.Key.
func EncodeECCPublicKey(xy []byte) []byte {
	return cryptoutils.EncodeECCPublicKey(xy)
}

// EncodeRSAPublicKey encodes pub for use as PublicKeyFromHost.Key.
func EncodeRSAPublicKey(pub *rsa.PublicKey) []byte {
	return cryptoutils.EncodeRSAPublicKey(pub)
}

// EncodeECDSASignature encodes r and s the way ECDSASign returns them.
func EncodeECDSASignature(r, s *big.Int) []byte {
	return cryptoutils.EncodeECDSASignature(r, s)
}

// ParseECDSASignature splits a signature returned by ECDSASign into r and s.
func ParseECDSASignature(sig []byte) (r, s *big.Int, err error) {
	return cryptoutils.DecodeECDSASignature(sig)
}

// CheckTagInMetadata reports whether the metadata TLV read by ReadMetadata
// carries tag.
func CheckTagInMetadata(md []byte, tag byte) bool {
	return metadata.HasTag(md, tag)
}
