package optiga

// KeyID addresses a key slot or session context on the chip.
type KeyID uint16

// Key slots and session contexts.
const (
	KeyIDE0F0 KeyID = 0xE0F0
	KeyIDE0F1 KeyID = 0xE0F1
	KeyIDE0F2 KeyID = 0xE0F2
	KeyIDE0F3 KeyID = 0xE0F3
	KeyIDE0FC KeyID = 0xE0FC
	KeyIDE0FD KeyID = 0xE0FD
	KeyIDE200 KeyID = 0xE200

	// KeyIDSessionBased asks the driver to acquire a free session context.
	KeyIDSessionBased KeyID = 0xE100
)

// Data object identifiers used by the examples.
const (
	OIDCoprocessorUID    uint16 = 0xE0C2
	OIDCurrentLimitation uint16 = 0xE0C4
	OIDSecurityCounter   uint16 = 0xE0C5
	OIDDeviceCert        uint16 = 0xE0E0
	OIDCert1             uint16 = 0xE0E1
	OIDTrustAnchor       uint16 = 0xE0E8
	OIDCounter1          uint16 = 0xE120
	OIDBindingSecret     uint16 = 0xE140
	OIDLastErrors        uint16 = 0xF1C2
	OIDArbitraryF1D0     uint16 = 0xF1D0
	OIDArbitraryF1E0     uint16 = 0xF1E0
)

const (
	sessionFirst = 0xE100
	sessionCount = 4
)

// ProtectionLevel selects shielded-connection protection for the next operation.
type ProtectionLevel byte

const (
	NoProtection       ProtectionLevel = 0x00
	CommandProtection  ProtectionLevel = 0x01
	ResponseProtection ProtectionLevel = 0x02
	FullProtection     ProtectionLevel = CommandProtection | ResponseProtection
)

// ECCCurve identifies a key pair curve.
type ECCCurve byte

const (
	ECCCurveNISTP256 ECCCurve = 0x03
	ECCCurveNISTP384 ECCCurve = 0x04
)

// RSAKeyType identifies an RSA modulus size.
type RSAKeyType byte

const (
	RSAKey1024Exp RSAKeyType = 0x41
	RSAKey2048Exp RSAKeyType = 0x42
)

// SymmetricKeyType identifies an AES key size.
type SymmetricKeyType byte

const (
	SymmetricAES128 SymmetricKeyType = 0x81
	SymmetricAES192 SymmetricKeyType = 0x82
	SymmetricAES256 SymmetricKeyType = 0x83
)

// KeyUsage is a bit set of permitted key operations.
type KeyUsage byte

const (
	KeyUsageAuthentication KeyUsage = 0x01
	KeyUsageEncryption     KeyUsage = 0x02
	KeyUsageSign           KeyUsage = 0x10
	KeyUsageKeyAgreement   KeyUsage = 0x20
)

// HashType selects the digest algorithm.
type HashType byte

const HashTypeSHA256 HashType = 0xE2

// RNGType selects the random source.
type RNGType byte

const (
	RNGTypeTRNG RNGType = 0x00
	RNGTypeDRNG RNGType = 0x01
)

// RSAScheme selects the RSA signature or encryption scheme.
type RSAScheme byte

const (
	RSASignaturePKCS1v15SHA256 RSAScheme = 0x01
	RSAESPKCS1v15              RSAScheme = 0x11
)

// SymmetricMode selects the block cipher mode.
type SymmetricMode byte

const (
	SymmetricECB    SymmetricMode = 0x08
	SymmetricCBC    SymmetricMode = 0x09
	SymmetricCBCMAC SymmetricMode = 0x0A
)

// HMACType selects the MAC algorithm.
type HMACType byte

const HMACSHA256 HMACType = 0x20

// KDFType selects the HKDF hash.
type KDFType byte

const HKDFSHA256 KDFType = 0x08

// WriteMode selects how WriteData treats existing content.
type WriteMode byte

const (
	WriteOnly     WriteMode = 0x00
	EraseAndWrite WriteMode = 0x40
)

// PublicKeyFromHost is a public key supplied by the host: a DER BIT STRING and
// the curve or RSA key type it belongs to.
type PublicKeyFromHost struct {
	Key  []byte
	Type byte
}

// HashContext carries the exported digest state between HashStart, HashUpdate
// and HashFinalize.
type HashContext struct {
	Type  HashType
	state []byte
}

// NewHashContext returns an empty context for t.
func NewHashContext(t HashType) *HashContext {
	return &HashContext{Type: t}
}

// chip command params.
const (
	paramReadData      = 0x00
	paramReadMetadata  = 0x01
	paramWriteMetadata = 0x01
	paramWriteCount    = 0x02

	paramUpdateStart    = 0x01
	paramUpdateContinue = 0x02
	paramUpdateFinal    = 0x03

	paramRandomPreMaster = 0x04

	hashStart    = 0x00
	hashUpdate   = 0x01
	hashFinalize = 0x02
	hashOneShot  = 0x03

	paramECDSA          = 0x11
	paramECDH           = 0x01
	paramTLSPRFSHA256   = 0x01
	paramOpenRestore    = 0x01
	paramCloseHibernate = 0x01
)
