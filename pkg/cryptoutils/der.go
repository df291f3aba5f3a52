package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

var ErrDER = errors.New("cryptoutils: malformed DER")

// EncodeECCPublicKey wraps an uncompressed X||Y point as a DER BIT STRING of 04||X||Y.
func EncodeECCPublicKey(xy []byte) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.BIT_STRING, func(b *cryptobyte.Builder) {
		b.AddUint8(0x00) // unused bits
		b.AddUint8(0x04) // uncompressed point
		b.AddBytes(xy)
	})

	return b.BytesOrPanic()
}

// DecodeECCPublicKey parses a BIT STRING public key on curve.
func DecodeECCPublicKey(der []byte, curve elliptic.Curve) (*ecdsa.PublicKey, error) {
	point, err := readBitString(der)
	if err != nil {
		return nil, err
	}
	size := (curve.Params().BitSize + 7) / 8
	if len(point) != 1+2*size || point[0] != 0x04 {
		return nil, fmt.Errorf("%w: unexpected point length %d", ErrDER, len(point))
	}
	x := new(big.Int).SetBytes(point[1 : 1+size])
	y := new(big.Int).SetBytes(point[1+size:])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("%w: point not on curve", ErrDER)
	}

	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// MarshalECCPublicKey encodes pub as a BIT STRING.
func MarshalECCPublicKey(pub *ecdsa.PublicKey) []byte {
	size := (pub.Curve.Params().BitSize + 7) / 8
	xy := make([]byte, 2*size)
	pub.X.FillBytes(xy[:size])
	pub.Y.FillBytes(xy[size:])

	return EncodeECCPublicKey(xy)
}

// EncodeRSAPublicKey encodes an RSA public key as BIT STRING { SEQUENCE { n, e } }.
func EncodeRSAPublicKey(pub *rsa.PublicKey) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.BIT_STRING, func(b *cryptobyte.Builder) {
		b.AddUint8(0x00)
		b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1BigInt(pub.N)
			b.AddASN1Int64(int64(pub.E))
		})
	})

	return b.BytesOrPanic()
}

// DecodeRSAPublicKey parses the BIT STRING form produced by EncodeRSAPublicKey.
func DecodeRSAPublicKey(der []byte) (*rsa.PublicKey, error) {
	body, err := readBitString(der)
	if err != nil {
		return nil, err
	}
	var (
		s   = cryptobyte.String(body)
		seq cryptobyte.String
		n   = new(big.Int)
		e   int64
	)
	if !s.ReadASN1(&seq, asn1.SEQUENCE) || !seq.ReadASN1Integer(n) ||
		!seq.ReadASN1Integer(&e) || !seq.Empty() || !s.Empty() {
		return nil, ErrDER
	}

	return &rsa.PublicKey{N: n, E: int(e)}, nil
}

// EncodeECDSASignature encodes r and s as two consecutive DER INTEGERs.
func EncodeECDSASignature(r, s *big.Int) []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1BigInt(r)
	b.AddASN1BigInt(s)

	return b.BytesOrPanic()
}

// DecodeECDSASignature parses two consecutive DER INTEGERs.
func DecodeECDSASignature(sig []byte) (r, s *big.Int, err error) {
	in := cryptobyte.String(sig)
	r, s = new(big.Int), new(big.Int)
	if !in.ReadASN1Integer(r) || !in.ReadASN1Integer(s) || !in.Empty() {
		return nil, nil, ErrDER
	}

	return r, s, nil
}

// SignatureToASN1 wraps the two-integer form into the SEQUENCE expected by ecdsa.VerifyASN1.
func SignatureToASN1(sig []byte) ([]byte, error) {
	r, s, err := DecodeECDSASignature(sig)
	if err != nil {
		return nil, err
	}
	b := cryptobyte.NewBuilder(nil)
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(r)
		b.AddASN1BigInt(s)
	})

	return b.Bytes()
}

// SignatureFromASN1 strips the SEQUENCE header of an ASN.1 ECDSA signature.
func SignatureFromASN1(sig []byte) ([]byte, error) {
	var (
		in    = cryptobyte.String(sig)
		inner cryptobyte.String
	)
	if !in.ReadASN1(&inner, asn1.SEQUENCE) || !in.Empty() {
		return nil, ErrDER
	}

	return append([]byte(nil), inner...), nil
}

func readBitString(der []byte) ([]byte, error) {
	var (
		in   = cryptobyte.String(der)
		bits cryptobyte.String
	)
	if !in.ReadASN1(&bits, asn1.BIT_STRING) || !in.Empty() || len(bits) < 1 || bits[0] != 0 {
		return nil, ErrDER
	}

	return bits[1:], nil
}
