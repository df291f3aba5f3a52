package chip

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/andrei-cloud/go_optiga/pkg/metadata"
)

// Object identifiers provisioned at manufacture.
const (
	OIDCoprocessorUID  uint16 = 0xE0C2
	OIDCurrentLimit    uint16 = 0xE0C4
	OIDSecurityCounter uint16 = 0xE0C5
	OIDDeviceCert      uint16 = 0xE0E0
	OIDCert1           uint16 = 0xE0E1
	OIDCert2           uint16 = 0xE0E2
	OIDCert3           uint16 = 0xE0E3
	OIDTrustAnchor1    uint16 = 0xE0E8
	OIDTrustAnchor2    uint16 = 0xE0E9
	OIDDeviceKey       uint16 = 0xE0F0
	OIDECCKey1         uint16 = 0xE0F1
	OIDECCKey2         uint16 = 0xE0F2
	OIDECCKey3         uint16 = 0xE0F3
	OIDRSAKey1         uint16 = 0xE0FC
	OIDRSAKey2         uint16 = 0xE0FD
	OIDSession1        uint16 = 0xE100
	OIDSession2        uint16 = 0xE101
	OIDSession3        uint16 = 0xE102
	OIDSession4        uint16 = 0xE103
	OIDCounter1        uint16 = 0xE120
	OIDCounter4        uint16 = 0xE123
	OIDBindingSecret   uint16 = 0xE140
	OIDAESKey          uint16 = 0xE200
	OIDLastErrors      uint16 = 0xF1C2
	OIDDataType1First  uint16 = 0xF1D0
	OIDDataType1Last   uint16 = 0xF1DB
	OIDDataType2First  uint16 = 0xF1E0
	OIDDataType2Last   uint16 = 0xF1E1
)

// Key algorithm identifiers, shared with GenKeyPair/GenSymKey params.
const (
	AlgECCP256 byte = 0x03
	AlgECCP384 byte = 0x04
	AlgRSA1024 byte = 0x41
	AlgRSA2048 byte = 0x42
	AlgAES128  byte = 0x81
	AlgAES192  byte = 0x82
	AlgAES256  byte = 0x83
)

// Key usage bits.
const (
	UsageAuthentication byte = 0x01
	UsageEncryption     byte = 0x02
	UsageSign           byte = 0x10
	UsageKeyAgreement   byte = 0x20
)

const (
	uidLength       = 27
	maxLastErrors   = 10
	maxClients      = 64
	certMaxSize     = 1728
	dataType1Size   = 140
	dataType2Size   = 1500
	bindingSecretSz = 64
)

// object is one addressable entry of the chip: a data object, a key slot or a session context.
type object struct {
	data []byte
	md   metadata.Metadata
	key  any // *ecdsa.PrivateKey, *rsa.PrivateKey or []byte for AES
}

func (o *object) clone() *object {
	out := &object{data: append([]byte(nil), o.data...), md: o.md.Clone(), key: o.key}
	if k, ok := o.key.([]byte); ok {
		out.key = append([]byte(nil), k...)
	}

	return out
}

func newDataObject(maxSize int, md metadata.Metadata) *object {
	if md == nil {
		md = metadata.Metadata{}
	}
	md.Set(metadata.TagMaxSize, byte(maxSize>>8), byte(maxSize))
	if _, ok := md[metadata.TagLcsO]; !ok {
		md.Set(metadata.TagLcsO, metadata.LcsCreation)
	}

	return &object{md: md}
}

func isSession(oid uint16) bool {
	return oid >= OIDSession1 && oid <= OIDSession4
}

// provision populates a factory-fresh object store.
func (c *Chip) provision() error {
	objs := map[uint16]*object{}

	uid := newDataObject(uidLength, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational).
		Set(metadata.TagChange, metadata.Never()...).
		Set(metadata.TagRead, metadata.Always()...))
	uid.data = defaultUID()
	objs[OIDCoprocessorUID] = uid

	limit := newDataObject(1, metadata.Metadata{}.
		Set(metadata.TagChange, metadata.Always()...).
		Set(metadata.TagRead, metadata.Always()...))
	limit.data = []byte{6}
	objs[OIDCurrentLimit] = limit

	objs[OIDSecurityCounter] = newDataObject(1, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational).
		Set(metadata.TagChange, metadata.Never()...).
		Set(metadata.TagRead, metadata.Always()...))

	deviceKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate device key: %w", err)
	}
	objs[OIDDeviceKey] = &object{
		key: deviceKey,
		md: metadata.Metadata{}.
			Set(metadata.TagLcsO, metadata.LcsOperational).
			Set(metadata.TagChange, metadata.Never()...).
			Set(metadata.TagExecute, metadata.Always()...).
			Set(metadata.TagAlgorithm, AlgECCP256).
			Set(metadata.TagKeyUsage, UsageAuthentication|UsageSign),
	}

	cert, err := deviceCertificate(deviceKey)
	if err != nil {
		return err
	}
	dc := newDataObject(certMaxSize, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational).
		Set(metadata.TagChange, metadata.Never()...).
		Set(metadata.TagRead, metadata.Always()...).
		Set(metadata.TagObjectType, metadata.TypeDeviceCert))
	dc.data = cert
	objs[OIDDeviceCert] = dc

	for _, oid := range []uint16{OIDCert1, OIDCert2, OIDCert3, OIDTrustAnchor1, OIDTrustAnchor2} {
		objs[oid] = newDataObject(certMaxSize, metadata.Metadata{}.
			Set(metadata.TagChange, metadata.Always()...).
			Set(metadata.TagRead, metadata.Always()...))
	}

	for _, oid := range []uint16{OIDECCKey1, OIDECCKey2, OIDECCKey3, OIDRSAKey1, OIDRSAKey2, OIDAESKey} {
		objs[oid] = &object{md: metadata.Metadata{}.
			Set(metadata.TagLcsO, metadata.LcsCreation).
			Set(metadata.TagChange, metadata.Always()...).
			Set(metadata.TagExecute, metadata.Always()...)}
	}

	for oid := OIDCounter1; oid <= OIDCounter4; oid++ {
		ctr := newDataObject(8, metadata.Metadata{}.
			Set(metadata.TagChange, metadata.Always()...).
			Set(metadata.TagRead, metadata.Always()...).
			Set(metadata.TagObjectType, metadata.TypeUpCounter))
		ctr.data = make([]byte, 8)
		objs[oid] = ctr
	}

	objs[OIDBindingSecret] = newDataObject(bindingSecretSz, metadata.Metadata{}.
		Set(metadata.TagChange, metadata.Always()...).
		Set(metadata.TagRead, metadata.Never()...).
		Set(metadata.TagObjectType, metadata.TypePlatformBind))

	objs[OIDLastErrors] = newDataObject(maxLastErrors, metadata.Metadata{}.
		Set(metadata.TagLcsO, metadata.LcsOperational).
		Set(metadata.TagChange, metadata.Never()...).
		Set(metadata.TagRead, metadata.Always()...))

	for oid := OIDDataType1First; oid <= OIDDataType1Last; oid++ {
		objs[oid] = newDataObject(dataType1Size, metadata.Metadata{}.
			Set(metadata.TagChange, metadata.Always()...).
			Set(metadata.TagRead, metadata.Always()...).
			Set(metadata.TagExecute, metadata.Always()...))
	}
	for oid := OIDDataType2First; oid <= OIDDataType2Last; oid++ {
		objs[oid] = newDataObject(dataType2Size, metadata.Metadata{}.
			Set(metadata.TagChange, metadata.Always()...).
			Set(metadata.TagRead, metadata.Always()...).
			Set(metadata.TagExecute, metadata.Always()...))
	}

	c.objects = objs

	return nil
}

// defaultUID lays out CIM id, platform id, model id, ROM mask id, chip type,
// batch number, x and y coordinate, firmware id and ESW build number.
func defaultUID() []byte {
	return []byte{
		0xCD,
		0x16,
		0x33,
		0x82, 0x01,
		0x00, 0x1C, 0x00, 0x05, 0x00, 0x00,
		0x0A, 0x09, 0xA4, 0x08, 0x00, 0x00,
		0x00, 0x69,
		0x00, 0x2B,
		0x80, 0x10, 0x10, 0x71,
		0x08, 0x09,
	}
}

func deviceCertificate(key *ecdsa.PrivateKey) ([]byte, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, fmt.Errorf("certificate serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"Infineon Technologies AG"},
			CommonName:   "OPTIGA(TM) Trust M Software Device",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(20, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create device certificate: %w", err)
	}

	return der, nil
}
