package chip

import (
	"bytes"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/protectedupdate"
)

func run(t *testing.T, c *Chip, cmd apdu.Command) ([]apdu.Field, error) {
	t.Helper()

	return runSealed(t, c, 0, 0, nil, cmd)
}

func runSealed(t *testing.T, c *Chip, flags byte, seq uint32, key []byte, cmd apdu.Command) ([]apdu.Field, error) {
	t.Helper()

	out := c.Execute(apdu.Seal(flags, seq, cmd.Bytes(), key).Bytes())
	f, err := apdu.ParseFrame(out)
	require.NoError(t, err)
	require.Equal(t, seq, f.Seq)
	r, err := apdu.ParseResponse(f.Payload)
	require.NoError(t, err)
	if err := r.Err(); err != nil {
		return nil, err
	}
	fields, err := r.Fields()
	require.NoError(t, err)

	return fields, nil
}

func mustRun(t *testing.T, c *Chip, cmd apdu.Command) []apdu.Field {
	t.Helper()

	fields, err := run(t, c, cmd)
	require.NoError(t, err)

	return fields
}

func field(t *testing.T, fields []apdu.Field, tag byte) []byte {
	t.Helper()

	v, ok := apdu.Lookup(fields, tag)
	require.True(t, ok, "missing tag 0x%02X", tag)

	return v
}

func openChip(t *testing.T, opts ...Option) *Chip {
	t.Helper()

	c, err := New(opts...)
	require.NoError(t, err)
	mustRun(t, c, apdu.NewCommand(apdu.CmdOpenApplication, ParamOpenFresh))

	return c
}

func readData(oid uint16) apdu.Command {
	return apdu.NewCommand(apdu.CmdGetDataObject, ParamReadData, apdu.Uint16(apdu.TagOID, oid))
}

func writeData(oid uint16, data []byte) apdu.Command {
	return apdu.NewCommand(apdu.CmdSetDataObject, ParamEraseAndWrite,
		apdu.Uint16(apdu.TagOID, oid), apdu.Bytes(apdu.TagData, data))
}

func writeMetadata(oid uint16, md metadata.Metadata) apdu.Command {
	return apdu.NewCommand(apdu.CmdSetDataObject, ParamWriteMetadata,
		apdu.Uint16(apdu.TagOID, oid), apdu.Bytes(apdu.TagData, md.Bytes()))
}

func TestExecuteRequiresOpenApplication(t *testing.T) {
	t.Parallel()

	c, err := New()
	require.NoError(t, err)

	_, err = run(t, c, readData(OIDCoprocessorUID))
	assert.Equal(t, errorcodes.Err800B, err)

	mustRun(t, c, apdu.NewCommand(apdu.CmdOpenApplication, ParamOpenFresh))
	fields := mustRun(t, c, readData(OIDCoprocessorUID))
	assert.Len(t, field(t, fields, apdu.TagData), uidLength)
}

func TestExecuteMalformedFrame(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	out := c.Execute([]byte{0x00})
	f, err := apdu.ParseFrame(out)
	require.NoError(t, err)
	r, err := apdu.ParseResponse(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, errorcodes.Err8004, r.Err())

	_, err = run(t, c, apdu.NewCommand(0x7F, 0))
	assert.Equal(t, errorcodes.Err800A, err)
}

func TestGetDataObject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cmd     apdu.Command
		wantLen int
		wantErr error
	}{
		{"coprocessor uid", readData(OIDCoprocessorUID), uidLength, nil},
		{"device certificate", readData(OIDDeviceCert), -1, nil},
		{"binding secret never readable", readData(OIDBindingSecret), 0, errorcodes.Err8007},
		{"key slot has no data", readData(OIDECCKey1), 0, errorcodes.Err8007},
		{"unknown object", readData(0x1234), 0, errorcodes.Err8001},
		{"session is not addressable", readData(OIDSession1), 0, errorcodes.Err8001},
		{
			"offset beyond data",
			apdu.NewCommand(apdu.CmdGetDataObject, ParamReadData,
				apdu.Uint16(apdu.TagOID, OIDCoprocessorUID), apdu.Uint16(apdu.TagOffset, 100)),
			0, errorcodes.Err8008,
		},
		{
			"offset and length",
			apdu.NewCommand(apdu.CmdGetDataObject, ParamReadData,
				apdu.Uint16(apdu.TagOID, OIDCoprocessorUID),
				apdu.Uint16(apdu.TagOffset, 2), apdu.Uint16(apdu.TagLength, 4)),
			4, nil,
		},
	}

	c := openChip(t)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			fields, err := run(t, c, tt.cmd)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)

				return
			}
			require.NoError(t, err)
			data := field(t, fields, apdu.TagData)
			if tt.wantLen >= 0 {
				assert.Len(t, data, tt.wantLen)
			} else {
				assert.NotEmpty(t, data)
			}
		})
	}
}

func TestDeviceCertificateMatchesDeviceKey(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	der := field(t, mustRun(t, c, readData(OIDDeviceCert)), apdu.TagData)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)

	digest := sha256.Sum256([]byte("device"))
	sig := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdCalcSign, ParamECDSA,
		apdu.Bytes(apdu.TagDigest, digest[:]), apdu.Uint16(apdu.TagOID, OIDDeviceKey))), apdu.TagSignature)
	asn, err := cryptoutils.SignatureToASN1(sig)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(pub, digest[:], asn))
}

func TestSetDataObject(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	oid := OIDDataType1First

	mustRun(t, c, writeData(oid, []byte{1, 2, 3, 4}))
	mustRun(t, c, apdu.NewCommand(apdu.CmdSetDataObject, ParamWriteData,
		apdu.Uint16(apdu.TagOID, oid), apdu.Uint16(apdu.TagOffset, 2), apdu.Bytes(apdu.TagData, []byte{9, 9, 9})))
	assert.Equal(t, []byte{1, 2, 9, 9, 9}, field(t, mustRun(t, c, readData(oid)), apdu.TagData))

	mustRun(t, c, writeData(oid, []byte{7}))
	assert.Equal(t, []byte{7}, field(t, mustRun(t, c, readData(oid)), apdu.TagData))

	_, err := run(t, c, writeData(oid, make([]byte, dataType1Size+1)))
	assert.Equal(t, errorcodes.Err8008, err)

	_, err = run(t, c, writeData(OIDCoprocessorUID, []byte{0}))
	assert.Equal(t, errorcodes.Err8007, err)

	raw := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGetDataObject, ParamReadMetadata,
		apdu.Uint16(apdu.TagOID, oid))), apdu.TagData)
	md, err := metadata.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, md[metadata.TagUsedSize])
	assert.Equal(t, dataType1Size, md.MaxSize())
}

func TestWriteMetadata(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	oid := OIDDataType1First + 1

	_, err := run(t, c, writeMetadata(oid, metadata.Metadata{}.Set(metadata.TagMaxSize, 0, 10)))
	assert.Equal(t, errorcodes.Err8005, err)

	mustRun(t, c, writeMetadata(oid, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational).
		Set(metadata.TagChange, metadata.Never()...)))

	_, err = run(t, c, writeData(oid, []byte{1}))
	assert.Equal(t, errorcodes.Err8007, err)

	_, err = run(t, c, writeMetadata(oid, metadata.Metadata{}.Set(metadata.TagChange, metadata.Always()...)))
	assert.Equal(t, errorcodes.Err8007, err)

	_, err = run(t, c, writeMetadata(OIDDataType1First+2, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational)))
	require.NoError(t, err)
}

func TestMonotonicCounter(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	mustRun(t, c, writeData(OIDCounter1, []byte{0, 0, 0, 0, 0, 0, 0, 5}))

	inc := func(n byte) error {
		_, err := run(t, c, apdu.NewCommand(apdu.CmdSetDataObject, ParamWriteCount,
			apdu.Uint16(apdu.TagOID, OIDCounter1), apdu.Bytes(apdu.TagData, []byte{n})))

		return err
	}

	require.NoError(t, inc(3))
	assert.Equal(t, errorcodes.Err800E, inc(3))
	require.NoError(t, inc(2))
	assert.Equal(t, []byte{0, 0, 0, 5, 0, 0, 0, 5}, field(t, mustRun(t, c, readData(OIDCounter1)), apdu.TagData))
}

func TestShieldedFrames(t *testing.T) {
	t.Parallel()

	c := openChip(t, WithSecurityDecay(0))
	secret := bytes.Repeat([]byte{0x5A}, bindingSecretSz)
	mustRun(t, c, writeData(OIDBindingSecret, secret))

	oid := OIDDataType1First + 3
	mustRun(t, c, writeData(oid, []byte("confidential")))
	mustRun(t, c, writeMetadata(oid, metadata.Metadata{}.Set(metadata.TagRead, metadata.Conf(OIDBindingSecret)...)))

	_, err := run(t, c, readData(oid))
	assert.Equal(t, errorcodes.Err8007, err)

	fields, err := runSealed(t, c, apdu.FlagResponseProtect, 1, secret, readData(oid))
	require.NoError(t, err)
	assert.Equal(t, []byte("confidential"), field(t, fields, apdu.TagData))

	_, err = runSealed(t, c, 0, 1, secret, readData(oid))
	assert.Equal(t, errorcodes.Err802D, err, "replayed sequence number")

	_, err = runSealed(t, c, 0, 2, []byte("wrong"), readData(oid))
	assert.Equal(t, errorcodes.Err802D, err, "wrong binding secret")

	st := c.Stats()
	assert.Equal(t, 2, st.SecurityCounter)
	assert.Equal(t, uint64(2), st.MACFailures)
	assert.Equal(t, []byte{2}, field(t, mustRun(t, c, readData(OIDSecurityCounter)), apdu.TagData))

	_, err = runSealed(t, c, 0, 3, secret, readData(oid))
	require.NoError(t, err)
}

func TestReplayWindowPerClient(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	secret := bytes.Repeat([]byte{0x22}, 32)
	mustRun(t, c, writeData(OIDBindingSecret, secret))

	exec := func(client, seq uint32) error {
		out := c.Execute(apdu.SealFor(client, 0, seq, readData(OIDCoprocessorUID).Bytes(), secret).Bytes())
		f, err := apdu.ParseFrame(out)
		require.NoError(t, err)
		assert.Equal(t, client, f.Client)
		r, err := apdu.ParseResponse(f.Payload)
		require.NoError(t, err)

		return r.Err()
	}

	require.NoError(t, exec(1, 5))
	require.NoError(t, exec(2, 1), "another client starts its own window")
	assert.Equal(t, errorcodes.Err802D, exec(1, 5))
	require.NoError(t, exec(2, 2))
	require.NoError(t, exec(1, 6))
	assert.Equal(t, uint64(1), c.Stats().MACFailures)
}

func TestProtectedResponseCarriesMAC(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	secret := bytes.Repeat([]byte{0x11}, 32)
	mustRun(t, c, writeData(OIDBindingSecret, secret))

	out := c.Execute(apdu.Seal(apdu.FlagResponseProtect, 1, readData(OIDCoprocessorUID).Bytes(), secret).Bytes())
	f, err := apdu.ParseFrame(out)
	require.NoError(t, err)
	assert.True(t, f.Verify(secret))

	out = c.Execute(apdu.Seal(0, 2, readData(OIDCoprocessorUID).Bytes(), secret).Bytes())
	f, err = apdu.ParseFrame(out)
	require.NoError(t, err)
	assert.False(t, f.Protected())
}

func TestSecurityCounterDecay(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	c := openChip(t, WithClock(func() time.Time { return now }), WithSecurityDecay(100*time.Millisecond))

	for seq := uint32(1); seq <= 3; seq++ {
		_, err := runSealed(t, c, 0, seq, []byte("bogus"), readData(OIDCoprocessorUID))
		assert.Equal(t, errorcodes.Err802D, err)
	}
	assert.Equal(t, 3, c.Stats().SecurityCounter)

	_, err := run(t, c, apdu.NewCommand(apdu.CmdCloseApplication, ParamHibernate))
	assert.Equal(t, errorcodes.Err8007, err)

	now = now.Add(150 * time.Millisecond)
	assert.Equal(t, 2, c.Stats().SecurityCounter)

	now = now.Add(time.Second)
	assert.Equal(t, 0, c.Stats().SecurityCounter)
}

func TestHibernateRestore(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	mustRun(t, c, apdu.NewCommand(apdu.CmdGetRandom, ParamRandomPreMaster,
		apdu.Uint16(apdu.TagLength, 48), apdu.Bytes(apdu.TagOptional, []byte{0x03, 0x03}),
		apdu.Uint16(apdu.TagContext, OIDSession1)))

	derive := apdu.NewCommand(apdu.CmdDeriveKey, ParamTLSPRFSHA256,
		apdu.Uint16(apdu.TagSecretOID, OIDSession1), apdu.Uint16(apdu.TagLength, 32),
		apdu.Bytes(apdu.TagLabel, []byte("master secret")), apdu.Bytes(apdu.TagSeed, []byte("seed")),
		apdu.Byte(apdu.TagExport, 1))
	before := field(t, mustRun(t, c, derive), apdu.TagData)

	handle := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdCloseApplication, ParamHibernate)), apdu.TagHandle)
	assert.Len(t, handle, contextHandleSize)
	assert.Equal(t, StateHibernated, c.Stats().State)

	_, err := run(t, c, derive)
	assert.Equal(t, errorcodes.Err800B, err)

	_, err = run(t, c, apdu.NewCommand(apdu.CmdOpenApplication, ParamOpenRestore,
		apdu.Bytes(apdu.TagHandle, make([]byte, contextHandleSize))))
	assert.Equal(t, errorcodes.Err8005, err)

	mustRun(t, c, apdu.NewCommand(apdu.CmdOpenApplication, ParamOpenRestore, apdu.Bytes(apdu.TagHandle, handle)))
	assert.Equal(t, before, field(t, mustRun(t, c, derive), apdu.TagData))

	mustRun(t, c, apdu.NewCommand(apdu.CmdCloseApplication, ParamClose))
	mustRun(t, c, apdu.NewCommand(apdu.CmdOpenApplication, ParamOpenFresh))
	_, err = run(t, c, derive)
	assert.Equal(t, errorcodes.Err8001, err)
}

func TestGetRandom(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		param   byte
		length  uint16
		wantErr error
	}{
		{"trng minimum", ParamRandomTRNG, minRandom, nil},
		{"drng maximum", ParamRandomDRNG, maxRandom, nil},
		{"too short", ParamRandomTRNG, minRandom - 1, errorcodes.Err8005},
		{"too long", ParamRandomTRNG, maxRandom + 1, errorcodes.Err8005},
		{"unknown param", 0x09, 32, errorcodes.Err8003},
	}

	c := openChip(t)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			fields, err := run(t, c, apdu.NewCommand(apdu.CmdGetRandom, tt.param, apdu.Uint16(apdu.TagLength, tt.length)))
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, err)

				return
			}
			require.NoError(t, err)
			assert.Len(t, field(t, fields, apdu.TagData), int(tt.length))
		})
	}
}

func TestECCSignVerify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		alg  byte
	}{
		{"nist p-256", AlgECCP256},
		{"nist p-384", AlgECCP384},
	}

	for _, tt := range tests {
		tt := tt
		alg := tt.alg
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := openChip(t)
			pub := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, alg,
				apdu.Uint16(apdu.TagOID, OIDECCKey1), apdu.Byte(apdu.TagUsage, UsageSign))), apdu.TagPublicKey)

			digest := sha256.Sum256([]byte("abc"))
			sig := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdCalcSign, ParamECDSA,
				apdu.Bytes(apdu.TagDigest, digest[:]), apdu.Uint16(apdu.TagOID, OIDECCKey1))), apdu.TagSignature)

			verify := func(d []byte) error {
				_, err := run(t, c, apdu.NewCommand(apdu.CmdVerifySign, ParamECDSA,
					apdu.Bytes(apdu.TagDigest, d), apdu.Bytes(apdu.TagSignature, sig),
					apdu.Bytes(apdu.TagPublicKey, pub), apdu.Byte(apdu.TagAlgorithm, alg)))

				return err
			}
			require.NoError(t, verify(digest[:]))

			tampered := append([]byte(nil), digest[:]...)
			tampered[0] ^= 0xFF
			assert.Equal(t, errorcodes.Err802C, verify(tampered))
		})
	}
}

func TestKeyUsageEnforced(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	mustRun(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgECCP256,
		apdu.Uint16(apdu.TagOID, OIDECCKey2), apdu.Byte(apdu.TagUsage, UsageKeyAgreement)))

	digest := sha256.Sum256([]byte("abc"))
	_, err := run(t, c, apdu.NewCommand(apdu.CmdCalcSign, ParamECDSA,
		apdu.Bytes(apdu.TagDigest, digest[:]), apdu.Uint16(apdu.TagOID, OIDECCKey2)))
	assert.Equal(t, errorcodes.Err8007, err)

	_, err = run(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgRSA1024,
		apdu.Uint16(apdu.TagOID, OIDECCKey3), apdu.Byte(apdu.TagUsage, UsageSign)))
	assert.Equal(t, errorcodes.Err8005, err, "rsa key in ecc slot")

	_, err = run(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgECCP256,
		apdu.Uint16(apdu.TagOID, OIDDeviceKey), apdu.Byte(apdu.TagUsage, UsageSign)))
	assert.Equal(t, errorcodes.Err8007, err, "device key is locked")
}

func TestRSASignAndEncrypt(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	pubDER := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgRSA1024,
		apdu.Uint16(apdu.TagOID, OIDRSAKey1), apdu.Byte(apdu.TagUsage, UsageSign|UsageEncryption))), apdu.TagPublicKey)
	pub, err := cryptoutils.DecodeRSAPublicKey(pubDER)
	require.NoError(t, err)
	assert.Equal(t, 1024, pub.N.BitLen())

	digest := sha256.Sum256([]byte("message"))
	sig := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdCalcSign, ParamRSAPKCS1SHA256,
		apdu.Bytes(apdu.TagDigest, digest[:]), apdu.Uint16(apdu.TagOID, OIDRSAKey1))), apdu.TagSignature)
	mustRun(t, c, apdu.NewCommand(apdu.CmdVerifySign, ParamRSAPKCS1SHA256,
		apdu.Bytes(apdu.TagDigest, digest[:]), apdu.Bytes(apdu.TagSignature, sig), apdu.Bytes(apdu.TagPublicKey, pubDER)))

	cipherText := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdEncryptAsym, ParamRSAESPKCS1,
		apdu.Bytes(apdu.TagPublicKey, pubDER), apdu.Bytes(apdu.TagData, []byte("plain")))), apdu.TagData)
	assert.Len(t, cipherText, 128)

	plain := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdDecryptAsym, ParamRSAESPKCS1,
		apdu.Uint16(apdu.TagOID, OIDRSAKey1), apdu.Bytes(apdu.TagData, cipherText), apdu.Byte(apdu.TagExport, 1))), apdu.TagData)
	assert.Equal(t, []byte("plain"), plain)

	_, err = run(t, c, apdu.NewCommand(apdu.CmdDecryptAsym, ParamRSAESPKCS1,
		apdu.Uint16(apdu.TagOID, OIDRSAKey1), apdu.Bytes(apdu.TagData, make([]byte, 128)), apdu.Byte(apdu.TagExport, 1)))
	assert.Equal(t, errorcodes.Err802E, err)
}

func TestRSAEncryptSession(t *testing.T) {
	t.Parallel()

	host, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)

	c := openChip(t)
	mustRun(t, c, apdu.NewCommand(apdu.CmdGetRandom, ParamRandomPreMaster,
		apdu.Uint16(apdu.TagLength, 48), apdu.Uint16(apdu.TagContext, OIDSession2)))
	out := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdEncryptAsym, ParamRSAESPKCS1,
		apdu.Bytes(apdu.TagPublicKey, cryptoutils.EncodeRSAPublicKey(&host.PublicKey)),
		apdu.Uint16(apdu.TagOID, OIDSession2))), apdu.TagData)

	secret, err := rsa.DecryptPKCS1v15(rand.Reader, host, out)
	require.NoError(t, err)
	assert.Len(t, secret, 48)
}

func TestSymmetric(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	mustRun(t, c, apdu.NewCommand(apdu.CmdGenSymKey, AlgAES128,
		apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Byte(apdu.TagUsage, UsageEncryption)))

	plain := bytes.Repeat([]byte("0123456789ABCDEF"), 2)
	iv := make([]byte, 16)

	for _, mode := range []byte{ModeECB, ModeCBC} {
		enc := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdEncryptSym, mode,
			apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Bytes(apdu.TagIV, iv), apdu.Bytes(apdu.TagData, plain))), apdu.TagData)
		assert.NotEqual(t, plain, enc)
		dec := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdDecryptSym, mode,
			apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Bytes(apdu.TagIV, iv), apdu.Bytes(apdu.TagData, enc))), apdu.TagData)
		assert.Equal(t, plain, dec)
	}

	mac := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdEncryptSym, ModeCBCMAC,
		apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Bytes(apdu.TagData, plain))), apdu.TagData)
	assert.Len(t, mac, 16)

	_, err := run(t, c, apdu.NewCommand(apdu.CmdEncryptSym, ModeECB,
		apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Bytes(apdu.TagData, []byte("short"))))
	assert.Equal(t, errorcodes.Err8005, err)
}

func TestCalcHash(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	msg := []byte("The quick brown fox jumps over the lazy dog")
	want := sha256.Sum256(msg)

	hash := func(mode byte, ctx, data []byte) []apdu.Field {
		fs := []apdu.Field{apdu.Byte(apdu.TagMode, mode), apdu.Bytes(apdu.TagData, data)}
		if ctx != nil {
			fs = append(fs, apdu.Bytes(apdu.TagContext, ctx))
		}

		return mustRun(t, c, apdu.NewCommand(apdu.CmdCalcHash, ParamHashSHA256, fs...))
	}

	assert.Equal(t, want[:], field(t, hash(HashOneShot, nil, msg), apdu.TagDigest))

	ctx := field(t, hash(HashStart, nil, nil), apdu.TagContext)
	ctx = field(t, hash(HashUpdate, ctx, msg[:10]), apdu.TagContext)
	digest := field(t, hash(HashFinalize, ctx, msg[10:]), apdu.TagDigest)
	assert.Equal(t, want[:], digest)
}

func TestHMACAndDerivation(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	secret := bytes.Repeat([]byte{0xA5}, 32)
	oid := OIDDataType1First + 4
	mustRun(t, c, writeData(oid, secret))

	_, err := run(t, c, apdu.NewCommand(apdu.CmdEncryptSym, ModeHMACSHA256,
		apdu.Uint16(apdu.TagSecretOID, oid), apdu.Bytes(apdu.TagData, []byte("abc"))))
	assert.Equal(t, errorcodes.Err8005, err, "plain byte string is not a secret")

	mustRun(t, c, writeMetadata(oid, metadata.Metadata{}.Set(metadata.TagObjectType, metadata.TypePreSharedSec)))

	m := hmac.New(sha256.New, secret)
	m.Write([]byte("abc"))
	got := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdEncryptSym, ModeHMACSHA256,
		apdu.Uint16(apdu.TagSecretOID, oid), apdu.Bytes(apdu.TagData, []byte("abc")))), apdu.TagData)
	assert.Equal(t, m.Sum(nil), got)

	want := make([]byte, 32)
	_, err = io.ReadFull(hkdf.New(sha256.New, secret, []byte("salt"), []byte("info")), want)
	require.NoError(t, err)
	got = field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdDeriveKey, ParamHKDFSHA256,
		apdu.Uint16(apdu.TagSecretOID, oid), apdu.Uint16(apdu.TagLength, 32),
		apdu.Bytes(apdu.TagSalt, []byte("salt")), apdu.Bytes(apdu.TagInfo, []byte("info")),
		apdu.Byte(apdu.TagExport, 1))), apdu.TagData)
	assert.Equal(t, want, got)

	got = field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdDeriveKey, ParamTLSPRFSHA256,
		apdu.Uint16(apdu.TagSecretOID, oid), apdu.Uint16(apdu.TagLength, 40),
		apdu.Bytes(apdu.TagLabel, []byte("label")), apdu.Bytes(apdu.TagSeed, []byte("seed")),
		apdu.Byte(apdu.TagExport, 1))), apdu.TagData)
	assert.Equal(t, cryptoutils.TLSPRFSHA256(secret, []byte("label"), []byte("seed"), 40), got)

	_, err = run(t, c, apdu.NewCommand(apdu.CmdDeriveKey, ParamHKDFSHA256,
		apdu.Uint16(apdu.TagSecretOID, oid), apdu.Uint16(apdu.TagLength, 8), apdu.Byte(apdu.TagExport, 1)))
	assert.Equal(t, errorcodes.Err8005, err)
}

func TestHMACAuthorization(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	secret := bytes.Repeat([]byte{0x3C}, 32)
	ref := OIDDataType1First + 5
	guarded := OIDDataType1First + 6

	mustRun(t, c, writeData(ref, secret))
	mustRun(t, c, writeMetadata(ref, metadata.Metadata{}.Set(metadata.TagObjectType, metadata.TypeAuthReference)))
	mustRun(t, c, writeData(guarded, []byte("guarded")))
	mustRun(t, c, writeMetadata(guarded, metadata.Metadata{}.Set(metadata.TagRead, metadata.Auto(ref)...)))

	_, err := run(t, c, readData(guarded))
	assert.Equal(t, errorcodes.Err8007, err)

	optional := []byte{0x01, 0x02}
	random := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGenAuthCode, 0,
		apdu.Uint16(apdu.TagLength, 32), apdu.Bytes(apdu.TagOptional, optional))), apdu.TagData)
	challenge := append(append([]byte(nil), optional...), random...)

	m := hmac.New(sha256.New, secret)
	m.Write(challenge)
	mustRun(t, c, apdu.NewCommand(apdu.CmdDecryptSym, ModeHMACSHA256,
		apdu.Uint16(apdu.TagSecretOID, ref), apdu.Bytes(apdu.TagData, challenge), apdu.Bytes(apdu.TagMAC, m.Sum(nil))))

	assert.Equal(t, []byte("guarded"), field(t, mustRun(t, c, readData(guarded)), apdu.TagData))

	mustRun(t, c, apdu.NewCommand(apdu.CmdClearAutoState, 0, apdu.Uint16(apdu.TagSecretOID, ref)))
	_, err = run(t, c, readData(guarded))
	assert.Equal(t, errorcodes.Err8007, err)

	field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGenAuthCode, 0, apdu.Uint16(apdu.TagLength, 32))), apdu.TagData)
	_, err = run(t, c, apdu.NewCommand(apdu.CmdDecryptSym, ModeHMACSHA256,
		apdu.Uint16(apdu.TagSecretOID, ref), apdu.Bytes(apdu.TagData, challenge), apdu.Bytes(apdu.TagMAC, m.Sum(nil))))
	assert.Equal(t, errorcodes.Err8005, err, "stale challenge")
}

func TestCalcSSec(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	pubDER := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgECCP256,
		apdu.Uint16(apdu.TagOID, OIDECCKey2), apdu.Byte(apdu.TagUsage, UsageKeyAgreement))), apdu.TagPublicKey)
	chipPub, err := cryptoutils.DecodeECCPublicKey(pubDER, elliptic.P256())
	require.NoError(t, err)

	host, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostPub, err := ecdh.P256().NewPublicKey(host.PublicKey().Bytes())
	require.NoError(t, err)

	got := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdCalcSSec, ParamECDH,
		apdu.Uint16(apdu.TagOID, OIDECCKey2),
		apdu.Bytes(apdu.TagPublicKey, cryptoutils.EncodeECCPublicKey(hostPub.Bytes()[1:])),
		apdu.Byte(apdu.TagAlgorithm, AlgECCP256), apdu.Byte(apdu.TagExport, 1))), apdu.TagData)

	peer, err := chipPub.ECDH()
	require.NoError(t, err)
	want, err := host.ECDH(peer)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mustRun(t, c, apdu.NewCommand(apdu.CmdCalcSSec, ParamECDH,
		apdu.Uint16(apdu.TagOID, OIDECCKey2),
		apdu.Bytes(apdu.TagPublicKey, cryptoutils.EncodeECCPublicKey(hostPub.Bytes()[1:])),
		apdu.Byte(apdu.TagAlgorithm, AlgECCP256), apdu.Uint16(apdu.TagContext, OIDSession3)))
	derived := field(t, mustRun(t, c, apdu.NewCommand(apdu.CmdDeriveKey, ParamTLSPRFSHA256,
		apdu.Uint16(apdu.TagSecretOID, OIDSession3), apdu.Uint16(apdu.TagLength, 32),
		apdu.Byte(apdu.TagExport, 1))), apdu.TagData)
	assert.Equal(t, cryptoutils.TLSPRFSHA256(want, nil, nil, 32), derived)
}

func trustAnchor(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "update signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return key, der
}

func TestProtectedUpdate(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	signer, cert := trustAnchor(t)
	target := OIDDataType2First

	mustRun(t, c, writeData(OIDTrustAnchor1, cert))
	mustRun(t, c, writeMetadata(OIDTrustAnchor1, metadata.Metadata{}.Set(metadata.TagObjectType, metadata.TypeTrustAnchor)))

	payload := bytes.Repeat([]byte("protected-update"), 40)[:600]
	man := protectedupdate.Manifest{TargetOID: target, TrustAnchorOID: OIDTrustAnchor1, PayloadVersion: 1}
	signed, frags, err := protectedupdate.Build(man, payload, 400, signer)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	start := apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateStart, apdu.Bytes(apdu.TagData, signed))
	_, err = run(t, c, start)
	assert.Equal(t, errorcodes.Err8007, err, "target not bound to the trust anchor")

	mustRun(t, c, writeMetadata(target, metadata.Metadata{}.Set(metadata.TagChange, metadata.Int(OIDTrustAnchor1)...)))
	_, err = run(t, c, writeData(target, []byte("plain write")))
	assert.Equal(t, errorcodes.Err8007, err)

	mustRun(t, c, start)
	mustRun(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateContinue, apdu.Bytes(apdu.TagData, frags[0])))
	mustRun(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateFinal, apdu.Bytes(apdu.TagData, frags[1])))

	assert.Equal(t, payload, field(t, mustRun(t, c, readData(target)), apdu.TagData))
	raw, ok := c.Metadata(target)
	require.True(t, ok)
	md, err := metadata.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1}, md[metadata.TagVersion])

	_, err = run(t, c, start)
	assert.Equal(t, errorcodes.Err8010, err, "same payload version")

	other, _ := trustAnchor(t)
	man.PayloadVersion = 2
	forged, frags, err := protectedupdate.Build(man, payload, 400, other)
	require.NoError(t, err)
	_, err = run(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateStart, apdu.Bytes(apdu.TagData, forged)))
	assert.Equal(t, errorcodes.Err802C, err)

	signed, frags, err = protectedupdate.Build(man, payload, 400, signer)
	require.NoError(t, err)
	mustRun(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateStart, apdu.Bytes(apdu.TagData, signed)))
	_, err = run(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateContinue, apdu.Bytes(apdu.TagData, frags[1])))
	assert.Equal(t, errorcodes.Err802D, err, "fragment out of order")

	_, err = run(t, c, apdu.NewCommand(apdu.CmdSetObjectProtected, ParamUpdateStart, apdu.Bytes(apdu.TagData, []byte{0xFF})))
	assert.Equal(t, errorcodes.Err800F, err)
}

func TestImageRoundTrip(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	mustRun(t, c, writeData(OIDDataType1First, []byte("persisted")))
	mustRun(t, c, apdu.NewCommand(apdu.CmdGenSymKey, AlgAES256,
		apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Byte(apdu.TagUsage, UsageEncryption)))
	mustRun(t, c, apdu.NewCommand(apdu.CmdGenKeyPair, AlgECCP256,
		apdu.Uint16(apdu.TagOID, OIDECCKey1), apdu.Byte(apdu.TagUsage, UsageSign)))

	img, err := c.MarshalImage()
	require.NoError(t, err)

	restored := openChip(t)
	require.NoError(t, restored.UnmarshalImage(img))

	assert.Equal(t, []byte("persisted"), field(t, mustRun(t, restored, readData(OIDDataType1First)), apdu.TagData))

	block := make([]byte, 16)
	enc := apdu.NewCommand(apdu.CmdEncryptSym, ModeECB, apdu.Uint16(apdu.TagOID, OIDAESKey), apdu.Bytes(apdu.TagData, block))
	assert.Equal(t, field(t, mustRun(t, c, enc), apdu.TagData), field(t, mustRun(t, restored, enc), apdu.TagData))

	deviceCert := field(t, mustRun(t, c, readData(OIDDeviceCert)), apdu.TagData)
	assert.Equal(t, deviceCert, field(t, mustRun(t, restored, readData(OIDDeviceCert)), apdu.TagData))

	assert.Error(t, restored.UnmarshalImage([]byte("objects: {ZZZZ: {metadata: \"20\"}}")))
}

func TestObjectsHidesKeys(t *testing.T) {
	t.Parallel()

	c := openChip(t)
	var sawKey, sawSecret bool
	for _, o := range c.Objects() {
		switch o.OID {
		case "E0F0":
			sawKey = true
			assert.Equal(t, "key", o.Kind)
			assert.True(t, o.HasKey)
			assert.False(t, o.Readable)
		case "E140":
			sawSecret = true
			assert.False(t, o.Readable)
		}
	}
	assert.True(t, sawKey)
	assert.True(t, sawSecret)

	_, ok := c.ReadPublic(OIDBindingSecret)
	assert.False(t, ok)
	uid, ok := c.ReadPublic(OIDCoprocessorUID)
	require.True(t, ok)
	assert.Len(t, uid, uidLength)
}
