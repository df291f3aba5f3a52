package optiga

import (
	"sync"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// Crypt is a crypt-service instance. It owns at most one session context,
// acquired on first use of a session-based key and released by Destroy.
type Crypt struct {
	*instance

	smu     sync.Mutex
	session KeyID
}

// NewCrypt creates a Crypt instance on h. cb is invoked once per accepted operation.
func (h *Host) NewCrypt(cb Callback) (*Crypt, error) {
	in, err := newInstance(h, "crypt", cb, errorcodes.ErrCryptBusy, errorcodes.ErrCryptInvalidInput)
	if err != nil {
		return nil, err
	}

	return &Crypt{instance: in}, nil
}

// Destroy releases the instance and its session context.
func (c *Crypt) Destroy() error {
	if c.isBusy() {
		return errorcodes.ErrCryptBusy
	}
	c.smu.Lock()
	defer c.smu.Unlock()

	if c.session != 0 {
		c.host.releaseSession(c.session)
		c.session = 0
	}

	return nil
}

// Session returns the session context held by the instance, or zero.
func (c *Crypt) Session() KeyID {
	c.smu.Lock()
	defer c.smu.Unlock()

	return c.session
}

// sessionID returns the instance session, acquiring one if needed. A busy
// instance is refused before anything is acquired.
func (c *Crypt) sessionID() (KeyID, error) {
	if c.isBusy() {
		return 0, c.busyErr
	}
	c.smu.Lock()
	defer c.smu.Unlock()

	if c.session != 0 {
		return c.session, nil
	}
	id, err := c.host.acquireSession()
	if err != nil {
		return 0, err
	}
	c.session = id

	return id, nil
}

// resolve turns KeyIDSessionBased into the instance session.
func (c *Crypt) resolve(id *KeyID) error {
	if *id != KeyIDSessionBased {
		return nil
	}
	s, err := c.sessionID()
	if err != nil {
		return err
	}
	*id = s

	return nil
}

// RandomGenerate fills out with n random bytes from rng.
func (c *Crypt) RandomGenerate(rng RNGType, n uint16, out *[]byte) error {
	if out == nil || (rng != RNGTypeTRNG && rng != RNGTypeDRNG) {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdGetRandom, byte(rng), apdu.Uint16(apdu.TagLength, n)), into(out, apdu.TagData))
}

// RSAGeneratePreMasterSecret places optional||random of length bytes into the
// instance session.
func (c *Crypt) RSAGeneratePreMasterSecret(optional []byte, length uint16) error {
	if int(length) <= len(optional) {
		return c.invalid
	}
	s, err := c.sessionID()
	if err != nil {
		return err
	}

	return c.send(apdu.NewCommand(apdu.CmdGetRandom, paramRandomPreMaster,
		apdu.Uint16(apdu.TagLength, length), apdu.Bytes(apdu.TagOptional, optional),
		apdu.Uint16(apdu.TagContext, uint16(s))), nil)
}

// GenerateAuthCode asks for an n-byte challenge. The chip remembers
// optional||random for a following HMACVerify.
func (c *Crypt) GenerateAuthCode(rng RNGType, optional []byte, n uint16, random *[]byte) error {
	if random == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdGenAuthCode, byte(rng),
		apdu.Uint16(apdu.TagLength, n), apdu.Bytes(apdu.TagOptional, optional)), into(random, apdu.TagData))
}

// HashStart initialises hc.
func (c *Crypt) HashStart(hc *HashContext) error {
	if hc == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcHash, byte(hc.Type), apdu.Byte(apdu.TagMode, hashStart)),
		func(fields []apdu.Field) error {
			return c.keepState(hc, fields)
		})
}

// HashUpdate feeds data into hc.
func (c *Crypt) HashUpdate(hc *HashContext, data []byte) error {
	if hc == nil || hc.state == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcHash, byte(hc.Type), apdu.Byte(apdu.TagMode, hashUpdate),
		apdu.Bytes(apdu.TagContext, hc.state), apdu.Bytes(apdu.TagData, data)),
		func(fields []apdu.Field) error {
			return c.keepState(hc, fields)
		})
}

// HashFinalize writes the digest of hc into out.
func (c *Crypt) HashFinalize(hc *HashContext, out *[]byte) error {
	if hc == nil || hc.state == nil || out == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcHash, byte(hc.Type), apdu.Byte(apdu.TagMode, hashFinalize),
		apdu.Bytes(apdu.TagContext, hc.state)), into(out, apdu.TagDigest))
}

func (c *Crypt) keepState(hc *HashContext, fields []apdu.Field) error {
	v, ok := apdu.Lookup(fields, apdu.TagContext)
	if !ok {
		return errorcodes.ErrCmdInvalidResponse
	}
	hc.state = append([]byte(nil), v...)

	return nil
}

// Hash computes the digest of data in one step.
func (c *Crypt) Hash(t HashType, data []byte, out *[]byte) error {
	if out == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcHash, byte(t), apdu.Byte(apdu.TagMode, hashOneShot),
		apdu.Bytes(apdu.TagData, data)), into(out, apdu.TagDigest))
}

// ECCGenerateKeypair generates a key pair on curve. Without export the private
// key stays in *keyID; KeyIDSessionBased is replaced by the acquired session.
// With export the private key is written to private. pub receives the DER
// BIT STRING of the public key.
func (c *Crypt) ECCGenerateKeypair(curve ECCCurve, usage KeyUsage, export bool, keyID *KeyID,
	private, pub *[]byte,
) error {
	return c.generateKeypair(byte(curve), usage, export, keyID, private, pub)
}

// RSAGenerateKeypair is ECCGenerateKeypair for RSA key types.
func (c *Crypt) RSAGenerateKeypair(t RSAKeyType, usage KeyUsage, export bool, keyID *KeyID,
	private, pub *[]byte,
) error {
	return c.generateKeypair(byte(t), usage, export, keyID, private, pub)
}

func (c *Crypt) generateKeypair(alg byte, usage KeyUsage, export bool, keyID *KeyID, private, pub *[]byte) error {
	if pub == nil || (export && private == nil) || (!export && keyID == nil) {
		return c.invalid
	}
	fields := []apdu.Field{apdu.Byte(apdu.TagUsage, byte(usage))}
	if export {
		fields = append(fields, apdu.Byte(apdu.TagExport, 1))
	} else {
		if err := c.resolve(keyID); err != nil {
			return err
		}
		fields = append(fields, apdu.Uint16(apdu.TagOID, uint16(*keyID)))
	}

	return c.send(apdu.NewCommand(apdu.CmdGenKeyPair, alg, fields...), func(fields []apdu.Field) error {
		if err := into(pub, apdu.TagPublicKey)(fields); err != nil {
			return err
		}
		if export {
			return into(private, apdu.TagData)(fields)
		}

		return nil
	})
}

// ECDSASign signs digest with keyID. out receives r and s as two DER INTEGERs.
func (c *Crypt) ECDSASign(digest []byte, keyID KeyID, out *[]byte) error {
	return c.sign(paramECDSA, digest, keyID, out)
}

// RSASign signs digest with keyID under scheme.
func (c *Crypt) RSASign(scheme RSAScheme, digest []byte, keyID KeyID, out *[]byte) error {
	if scheme != RSASignaturePKCS1v15SHA256 {
		return c.invalid
	}

	return c.sign(byte(scheme), digest, keyID, out)
}

func (c *Crypt) sign(param byte, digest []byte, keyID KeyID, out *[]byte) error {
	if len(digest) == 0 || out == nil {
		return c.invalid
	}
	if err := c.resolve(&keyID); err != nil {
		return err
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcSign, param,
		apdu.Bytes(apdu.TagDigest, digest), apdu.Uint16(apdu.TagOID, uint16(keyID))), into(out, apdu.TagSignature))
}

// ECDSAVerify verifies sig over digest with a host-supplied public key.
func (c *Crypt) ECDSAVerify(digest, sig []byte, pub PublicKeyFromHost) error {
	return c.verify(paramECDSA, digest, sig, pub)
}

// RSAVerify verifies sig over digest with a host-supplied public key.
func (c *Crypt) RSAVerify(scheme RSAScheme, digest, sig []byte, pub PublicKeyFromHost) error {
	if scheme != RSASignaturePKCS1v15SHA256 {
		return c.invalid
	}

	return c.verify(byte(scheme), digest, sig, pub)
}

func (c *Crypt) verify(param byte, digest, sig []byte, pub PublicKeyFromHost) error {
	if len(digest) == 0 || len(sig) == 0 || len(pub.Key) == 0 {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdVerifySign, param,
		apdu.Bytes(apdu.TagDigest, digest), apdu.Bytes(apdu.TagSignature, sig),
		apdu.Bytes(apdu.TagPublicKey, pub.Key), apdu.Byte(apdu.TagAlgorithm, pub.Type)), nil)
}

// ECDH computes the shared secret of keyID and pub. Without export the secret
// is kept in the instance session.
func (c *Crypt) ECDH(keyID KeyID, pub PublicKeyFromHost, export bool, out *[]byte) error {
	if len(pub.Key) == 0 || (export && out == nil) {
		return c.invalid
	}
	if err := c.resolve(&keyID); err != nil {
		return err
	}
	fields := []apdu.Field{
		apdu.Uint16(apdu.TagOID, uint16(keyID)),
		apdu.Bytes(apdu.TagPublicKey, pub.Key),
		apdu.Byte(apdu.TagAlgorithm, pub.Type),
	}
	fields, err := c.secretTarget(fields, export)
	if err != nil {
		return err
	}

	return c.send(apdu.NewCommand(apdu.CmdCalcSSec, paramECDH, fields...), exported(export, out))
}

// secretTarget adds the export flag or the session receiving a derived secret.
func (c *Crypt) secretTarget(fields []apdu.Field, export bool) ([]apdu.Field, error) {
	if export {
		return append(fields, apdu.Byte(apdu.TagExport, 1)), nil
	}
	s, err := c.sessionID()
	if err != nil {
		return nil, err
	}

	return append(fields, apdu.Uint16(apdu.TagContext, uint16(s))), nil
}

func exported(export bool, out *[]byte) func([]apdu.Field) error {
	if !export {
		return nil
	}

	return into(out, apdu.TagData)
}

// RSAEncryptMessage encrypts msg with a host-supplied public key.
func (c *Crypt) RSAEncryptMessage(scheme RSAScheme, msg []byte, pub PublicKeyFromHost, out *[]byte) error {
	if scheme != RSAESPKCS1v15 || len(msg) == 0 || len(pub.Key) == 0 || out == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdEncryptAsym, byte(scheme),
		apdu.Bytes(apdu.TagData, msg), apdu.Bytes(apdu.TagPublicKey, pub.Key)), into(out, apdu.TagData))
}

// RSAEncryptSession encrypts the secret held in the instance session.
func (c *Crypt) RSAEncryptSession(scheme RSAScheme, pub PublicKeyFromHost, out *[]byte) error {
	if scheme != RSAESPKCS1v15 || len(pub.Key) == 0 || out == nil {
		return c.invalid
	}
	s := c.Session()
	if s == 0 {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdEncryptAsym, byte(scheme),
		apdu.Uint16(apdu.TagOID, uint16(s)), apdu.Bytes(apdu.TagPublicKey, pub.Key)), into(out, apdu.TagData))
}

// RSADecryptAndExport decrypts enc with keyID and returns the plaintext.
func (c *Crypt) RSADecryptAndExport(scheme RSAScheme, enc []byte, keyID KeyID, out *[]byte) error {
	if out == nil {
		return c.invalid
	}

	return c.decrypt(scheme, enc, keyID, true, out)
}

// RSADecryptAndStore decrypts enc with keyID into the instance session.
func (c *Crypt) RSADecryptAndStore(scheme RSAScheme, enc []byte, keyID KeyID) error {
	return c.decrypt(scheme, enc, keyID, false, nil)
}

func (c *Crypt) decrypt(scheme RSAScheme, enc []byte, keyID KeyID, export bool, out *[]byte) error {
	if scheme != RSAESPKCS1v15 || len(enc) == 0 {
		return c.invalid
	}
	fields, err := c.secretTarget([]apdu.Field{
		apdu.Uint16(apdu.TagOID, uint16(keyID)),
		apdu.Bytes(apdu.TagData, enc),
	}, export)
	if err != nil {
		return err
	}

	return c.send(apdu.NewCommand(apdu.CmdDecryptAsym, byte(scheme), fields...), exported(export, out))
}

// SymmetricGenerateKey generates an AES key. Without export it is stored in
// *keyID; with export it is written to key.
func (c *Crypt) SymmetricGenerateKey(t SymmetricKeyType, usage KeyUsage, export bool, keyID *KeyID,
	key *[]byte,
) error {
	if (export && key == nil) || (!export && keyID == nil) {
		return c.invalid
	}
	fields := []apdu.Field{apdu.Byte(apdu.TagUsage, byte(usage))}
	if export {
		fields = append(fields, apdu.Byte(apdu.TagExport, 1))
	} else {
		fields = append(fields, apdu.Uint16(apdu.TagOID, uint16(*keyID)))
	}

	return c.send(apdu.NewCommand(apdu.CmdGenSymKey, byte(t), fields...), exported(export, key))
}

// SymmetricEncrypt encrypts in under mode with keyID. iv is used by CBC only.
func (c *Crypt) SymmetricEncrypt(mode SymmetricMode, keyID KeyID, iv, in []byte, out *[]byte) error {
	return c.symmetric(apdu.CmdEncryptSym, mode, keyID, iv, in, out)
}

// SymmetricDecrypt decrypts in under mode with keyID.
func (c *Crypt) SymmetricDecrypt(mode SymmetricMode, keyID KeyID, iv, in []byte, out *[]byte) error {
	if mode == SymmetricCBCMAC {
		return c.invalid
	}

	return c.symmetric(apdu.CmdDecryptSym, mode, keyID, iv, in, out)
}

// SymmetricEncryptECB is SymmetricEncrypt in ECB mode.
func (c *Crypt) SymmetricEncryptECB(keyID KeyID, in []byte, out *[]byte) error {
	return c.SymmetricEncrypt(SymmetricECB, keyID, nil, in, out)
}

// SymmetricDecryptECB is SymmetricDecrypt in ECB mode.
func (c *Crypt) SymmetricDecryptECB(keyID KeyID, in []byte, out *[]byte) error {
	return c.SymmetricDecrypt(SymmetricECB, keyID, nil, in, out)
}

// SymmetricEncryptCBC is SymmetricEncrypt in CBC mode.
func (c *Crypt) SymmetricEncryptCBC(keyID KeyID, iv, in []byte, out *[]byte) error {
	return c.SymmetricEncrypt(SymmetricCBC, keyID, iv, in, out)
}

// SymmetricDecryptCBC is SymmetricDecrypt in CBC mode.
func (c *Crypt) SymmetricDecryptCBC(keyID KeyID, iv, in []byte, out *[]byte) error {
	return c.SymmetricDecrypt(SymmetricCBC, keyID, iv, in, out)
}

// SymmetricCBCMAC computes the CBC-MAC of in with keyID.
func (c *Crypt) SymmetricCBCMAC(keyID KeyID, in []byte, out *[]byte) error {
	return c.SymmetricEncrypt(SymmetricCBCMAC, keyID, nil, in, out)
}

func (c *Crypt) symmetric(code byte, mode SymmetricMode, keyID KeyID, iv, in []byte, out *[]byte) error {
	if len(in) == 0 || out == nil {
		return c.invalid
	}
	fields := []apdu.Field{apdu.Uint16(apdu.TagOID, uint16(keyID)), apdu.Bytes(apdu.TagData, in)}
	switch mode {
	case SymmetricCBC:
		if len(iv) == 0 {
			return c.invalid
		}
		fields = append(fields, apdu.Bytes(apdu.TagIV, iv))
	case SymmetricECB, SymmetricCBCMAC:
	default:
		return c.invalid
	}

	return c.send(apdu.NewCommand(code, byte(mode), fields...), into(out, apdu.TagData))
}

// HMAC computes the MAC of in keyed by the pre-shared secret in secretOID.
func (c *Crypt) HMAC(t HMACType, secretOID uint16, in []byte, out *[]byte) error {
	if t != HMACSHA256 || len(in) == 0 || out == nil {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdEncryptSym, byte(t),
		apdu.Uint16(apdu.TagSecretOID, secretOID), apdu.Bytes(apdu.TagData, in)), into(out, apdu.TagData))
}

// HMACVerify checks mac over in, which must be the pending authorization code.
// On success the auto state of secretOID is set.
func (c *Crypt) HMACVerify(t HMACType, secretOID uint16, in, mac []byte) error {
	if t != HMACSHA256 || len(in) == 0 || len(mac) == 0 {
		return c.invalid
	}

	return c.send(apdu.NewCommand(apdu.CmdDecryptSym, byte(t),
		apdu.Uint16(apdu.TagSecretOID, secretOID), apdu.Bytes(apdu.TagData, in), apdu.Bytes(apdu.TagMAC, mac)), nil)
}

// ClearAutoState clears the auto state of secretOID.
func (c *Crypt) ClearAutoState(secretOID uint16) error {
	return c.send(apdu.NewCommand(apdu.CmdClearAutoState, 0, apdu.Uint16(apdu.TagSecretOID, secretOID)), nil)
}

// HKDF derives length bytes from secretOID. Without export the key is kept in
// the instance session.
func (c *Crypt) HKDF(t KDFType, secretOID uint16, salt, info []byte, length uint16, export bool, out *[]byte) error {
	if t != HKDFSHA256 || (export && out == nil) {
		return c.invalid
	}

	return c.derive(byte(t), secretOID, length, export, out,
		apdu.Bytes(apdu.TagSalt, salt), apdu.Bytes(apdu.TagInfo, info))
}

// TLSPRFSHA256 derives length bytes from secretOID with the TLS 1.2 PRF.
func (c *Crypt) TLSPRFSHA256(secretOID uint16, label, seed []byte, length uint16, export bool, out *[]byte) error {
	if export && out == nil {
		return c.invalid
	}

	return c.derive(paramTLSPRFSHA256, secretOID, length, export, out,
		apdu.Bytes(apdu.TagLabel, label), apdu.Bytes(apdu.TagSeed, seed))
}

func (c *Crypt) derive(param byte, secretOID uint16, length uint16, export bool, out *[]byte,
	extra ...apdu.Field,
) error {
	fields := append([]apdu.Field{
		apdu.Uint16(apdu.TagSecretOID, secretOID),
		apdu.Uint16(apdu.TagLength, length),
	}, extra...)
	fields, err := c.secretTarget(fields, export)
	if err != nil {
		return err
	}

	return c.send(apdu.NewCommand(apdu.CmdDeriveKey, param, fields...), exported(export, out))
}
