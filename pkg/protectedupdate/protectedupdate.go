// Package protectedupdate builds and verifies the signed manifests and
// chained fragments used to update a data object under integrity protection.
//
// A manifest is a COSE_Sign1 structure (CBOR tag 18) signed with ES256. Its
// payload names the target object, the payload version and length, and the
// SHA-256 digest of the first fragment. Every fragment except the last ends
// with the SHA-256 digest of the fragment that follows it.
package protectedupdate

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
)

const (
	coseSign1Tag = 18
	algES256     = -7
	headerAlg    = 1
	DigestSize   = sha256.Size
)

var (
	ErrManifest  = errors.New("protectedupdate: malformed manifest")
	ErrSignature = errors.New("protectedupdate: manifest signature invalid")
)

// Manifest describes one protected update.
type Manifest struct {
	Version        int    `cbor:"1,keyasint"`
	TargetOID      uint16 `cbor:"2,keyasint"`
	TrustAnchorOID uint16 `cbor:"3,keyasint"`
	PayloadVersion uint16 `cbor:"4,keyasint"`
	PayloadLength  int    `cbor:"5,keyasint"`
	FirstDigest    []byte `cbor:"6,keyasint"`
}

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]interface{}
	Payload     []byte
	Signature   []byte
}

// Fragments splits payload into chunks of at most size bytes and chains them:
// every fragment but the last carries the digest of its successor.
func Fragments(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	chunks := cryptoutils.Chunk(payload, size)

	frags := make([][]byte, len(chunks))
	frags[len(chunks)-1] = append([]byte(nil), chunks[len(chunks)-1]...)
	for i := len(chunks) - 2; i >= 0; i-- {
		next := sha256.Sum256(frags[i+1])
		frags[i] = append(append([]byte(nil), chunks[i]...), next[:]...)
	}

	return frags
}

// Build fragments payload, fills the manifest length and first digest, and signs it.
func Build(m Manifest, payload []byte, fragmentSize int, signer *ecdsa.PrivateKey) ([]byte, [][]byte, error) {
	frags := Fragments(payload, fragmentSize)
	if len(frags) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrManifest)
	}
	first := sha256.Sum256(frags[0])
	m.PayloadLength = len(payload)
	m.FirstDigest = first[:]
	if m.Version == 0 {
		m.Version = 1
	}

	signed, err := Sign(m, signer)
	if err != nil {
		return nil, nil, err
	}

	return signed, frags, nil
}

// Sign encodes m as a tagged COSE_Sign1 signed with ES256.
func Sign(m Manifest, signer *ecdsa.PrivateKey) ([]byte, error) {
	payload, err := cbor.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	protected, err := cbor.Marshal(map[int]int{headerAlg: algES256})
	if err != nil {
		return nil, fmt.Errorf("encode protected header: %w", err)
	}
	digest, err := sigStructureDigest(protected, payload)
	if err != nil {
		return nil, err
	}
	r, s, err := ecdsa.Sign(rand.Reader, signer, digest)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	size := (signer.Curve.Params().BitSize + 7) / 8
	sig := make([]byte, 2*size)
	r.FillBytes(sig[:size])
	s.FillBytes(sig[size:])

	msg := coseSign1{
		Protected:   protected,
		Unprotected: map[int]interface{}{},
		Payload:     payload,
		Signature:   sig,
	}

	return cbor.Marshal(cbor.Tag{Number: coseSign1Tag, Content: msg})
}

// Parse decodes a signed manifest without checking its signature.
func Parse(data []byte) (Manifest, error) {
	msg, err := decode(data)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := cbor.Unmarshal(msg.Payload, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	return m, nil
}

// Verify decodes a signed manifest and checks it against pub.
func Verify(data []byte, pub *ecdsa.PublicKey) (Manifest, error) {
	msg, err := decode(data)
	if err != nil {
		return Manifest{}, err
	}
	var hdr map[int]int
	if err := cbor.Unmarshal(msg.Protected, &hdr); err != nil || hdr[headerAlg] != algES256 {
		return Manifest{}, fmt.Errorf("%w: unsupported algorithm", ErrManifest)
	}
	size := (pub.Curve.Params().BitSize + 7) / 8
	if len(msg.Signature) != 2*size {
		return Manifest{}, ErrSignature
	}
	digest, err := sigStructureDigest(msg.Protected, msg.Payload)
	if err != nil {
		return Manifest{}, err
	}
	r := new(big.Int).SetBytes(msg.Signature[:size])
	s := new(big.Int).SetBytes(msg.Signature[size:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return Manifest{}, ErrSignature
	}

	var m Manifest
	if err := cbor.Unmarshal(msg.Payload, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if len(m.FirstDigest) != DigestSize || m.PayloadLength <= 0 {
		return Manifest{}, fmt.Errorf("%w: missing digest or length", ErrManifest)
	}

	return m, nil
}

func decode(data []byte) (coseSign1, error) {
	var raw cbor.RawTag
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return coseSign1{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}
	if raw.Number != coseSign1Tag {
		return coseSign1{}, fmt.Errorf("%w: unexpected tag %d", ErrManifest, raw.Number)
	}
	var msg coseSign1
	if err := cbor.Unmarshal(raw.Content, &msg); err != nil {
		return coseSign1{}, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	return msg, nil
}

func sigStructureDigest(protected, payload []byte) ([]byte, error) {
	tbs, err := cbor.Marshal([]interface{}{"Signature1", protected, []byte{}, payload})
	if err != nil {
		return nil, fmt.Errorf("encode sig structure: %w", err)
	}
	sum := sha256.Sum256(tbs)

	return sum[:], nil
}
