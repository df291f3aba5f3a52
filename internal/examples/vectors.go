package examples

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/andrei-cloud/go_optiga/pkg/cryptoutils"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

// dataToHash is hashed including its terminating NUL.
var dataToHash = append([]byte("OPTIGA, Infineon Technologies AG"), 0x00)

// digest signed by the sign and hibernate examples.
var preparedDigest = cryptoutils.MustHex(
	"61C7DEF90FD5CD7A8B7A364104E00D823846BFB770EEBF8F40252E0A2142AF9C")

// ECDSA P-256 verification vector: public key X||Y, digest and r,s as DER integers.
var (
	verifyPublicKey = cryptoutils.MustHex(
		"8b889c1dd607582ed6f82cc2d9bed0fe64f3245e947d54cd20dc5898cf513144" +
			"22ea01d40b23b2457c42df3cfb0d3310b849b7aa0a85dee76af1ac31311e8c4b")
	verifyDigest = cryptoutils.MustHex(
		"E95FB3B19FA4DD27FEAEB3334080CE35DF3E08F16F36F3240EB0B32FABD090CA")
	verifySignature = cryptoutils.MustHex(
		"022039A470E93230F55FA4DF8A07365865C6E61B0751FBC61605EBDF566DA9503B24" +
			"021E49336C072BD040200FD4E07E6766C4F57F98EC38B8EF448F6AE1FD1E92B4")
)

// peer public key for ECDH.
var peerPublicKey = verifyPublicKey

// AES test blocks.
var (
	ecbPlaintext = cryptoutils.MustHex("6bc1bee22e409f96e93d7e117393172a")
	cbcPlaintext = cryptoutils.MustHex("6bc1bee22e409f96e93d7e117393172aae2d8a571e03ac9c9eb76fac45af8e51")
	cbcIV        = cryptoutils.MustHex("000102030405060708090a0b0c0d0e0f")
)

// metadata granting change and execute ALW, used for E0FC and E200.
var changeExecuteAlways = []byte{0x20, 0x06, 0xD0, 0x01, 0x00, 0xD3, 0x01, 0x00}

// secrets and derivation inputs.
var sharedSecret = cryptoutils.MustHex(
	"BFB770EEBF8F61C7DEF90FD5CD7A8B7A364104E00D823846402FA0E2A1420A52" +
		"7B8A0FD5CD76A8B7A3664104E00D8238BF46B770EEBF8F40252E0A2142AF9C93")

var (
	prfLabel  = []byte("Firmware update")
	prfSeed   = cryptoutils.MustHex("61C7DEF90FD5CD7A8B7A364104E00D823846BFB770EEBF8F40252E0A2142AF9C")
	hkdfSalt  = cryptoutils.MustHex("0001020304050607")
	hkdfInfo  = cryptoutils.MustHex("F0F1F2F3F4F5F6F7F8F9")
	hmacInput = cryptoutils.MustHex("7B8A0FD5CD76A8B7A3664104E00D8238BF46B770EEBF8F40252E0A2142AF9C93")
)

var (
	userSecret    = cryptoutils.MustHex("8D91A3B9C25E6F0011223344556677889900AABBCCDDEEFF0102030405060708")
	authOptional  = cryptoutils.MustHex("0102030405060708090A0B0C0D0E0F10")
	protectedF1E0 = []byte("data readable after HMAC verification")
)

var (
	rsaMessage        = []byte("Infineon OPTIGA(TM) Trust M RSA message")
	preMasterOptional = []byte{0x01, 0x02}
)

// initial value of a monotonic counter: count 0, threshold 10.
var counterInit = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x0A}

// F1D0 as an executable pre-shared secret.
var preSharedMD = metadata.Metadata{}.
	Set(metadata.TagExecute, metadata.Always()...).
	Set(metadata.TagObjectType, metadata.TypePreSharedSec).Bytes()

// F1D0 as a pre-shared secret readable over a shielded connection only.
var shieldedPreSharedMD = metadata.Metadata{}.
	Set(metadata.TagRead, metadata.Conf(optiga.OIDBindingSecret)...).
	Set(metadata.TagExecute, metadata.Always()...).
	Set(metadata.TagObjectType, metadata.TypePreSharedSec).Bytes()

var restoredMD = metadata.Metadata{}.
	Set(metadata.TagRead, metadata.Always()...).
	Set(metadata.TagObjectType, metadata.TypeByteString).Bytes()

var authReferenceMD = metadata.Metadata{}.
	Set(metadata.TagExecute, metadata.Always()...).
	Set(metadata.TagObjectType, metadata.TypeAuthReference).Bytes()

// trustAnchor is an ES256 signer and its self-signed certificate. The
// certificate is stored in the trust anchor object; the key signs manifests.
type trustAnchor struct {
	key  *ecdsa.PrivateKey
	cert []byte
}

func newTrustAnchor() (*trustAnchor, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate trust anchor key: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x2A),
		Subject: pkix.Name{
			Organization: []string{"Infineon Technologies AG"},
			CommonName:   "OPTIGA Trust M update signer",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create trust anchor certificate: %w", err)
	}

	return &trustAnchor{key: key, cert: der}, nil
}

// issue signs a leaf certificate used as the protected update payload.
func (ta *trustAnchor) issue(cn string) ([]byte, error) {
	leaf, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}
	parent, err := x509.ParseCertificate(ta.cert)
	if err != nil {
		return nil, fmt.Errorf("parse trust anchor: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("leaf serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"Infineon Technologies AG"}, CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().AddDate(5, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &leaf.PublicKey, ta.key)
	if err != nil {
		return nil, fmt.Errorf("issue leaf certificate: %w", err)
	}

	return der, nil
}

// newHostRSAKey returns the host key pair RSAEncryptMessage encrypts to.
func newHostRSAKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, fmt.Errorf("generate host rsa key: %w", err)
	}

	return key, nil
}
