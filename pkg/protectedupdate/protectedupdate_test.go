package protectedupdate

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFragmentsChain(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0xA5}, 600)
	frags := Fragments(payload, 400)
	require.Len(t, frags, 2)
	assert.Len(t, frags[0], 400+DigestSize)
	assert.Len(t, frags[1], 200)

	next := sha256.Sum256(frags[1])
	assert.Equal(t, next[:], frags[0][400:])
	assert.Nil(t, Fragments(nil, 10))
}

func TestBuildAndVerify(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x01, 0x02}, 300)
	signed, frags, err := Build(Manifest{TargetOID: 0xE0E1, TrustAnchorOID: 0xE0E8, PayloadVersion: 3},
		payload, 400, key)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	m, err := Verify(signed, &key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xE0E1), m.TargetOID)
	assert.Equal(t, uint16(3), m.PayloadVersion)
	assert.Equal(t, len(payload), m.PayloadLength)
	first := sha256.Sum256(frags[0])
	assert.Equal(t, first[:], m.FirstDigest)

	parsed, err := Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, m, parsed)
}

func TestVerifyRejectsOtherKey(t *testing.T) {
	t.Parallel()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signed, _, err := Build(Manifest{TargetOID: 0xE0E1}, []byte("payload"), 16, key)
	require.NoError(t, err)

	_, err = Verify(signed, &other.PublicKey)
	assert.ErrorIs(t, err, ErrSignature)

	_, err = Verify([]byte{0x01, 0x02}, &key.PublicKey)
	assert.ErrorIs(t, err, ErrManifest)
}
