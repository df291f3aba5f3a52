package examples

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const (
	nameRSAGenerateKeypair  = "example_optiga_crypt_rsa_generate_keypair"
	nameRSASign             = "example_optiga_crypt_rsa_sign"
	nameRSAVerify           = "example_optiga_crypt_rsa_verify"
	nameRSAEncryptMessage   = "example_optiga_crypt_rsa_encrypt_message"
	nameRSAEncryptSession   = "example_optiga_crypt_rsa_encrypt_session"
	nameRSADecryptAndStore  = "example_optiga_crypt_rsa_decrypt_and_store"
	nameRSADecryptAndExport = "example_optiga_crypt_rsa_decrypt_and_export"
)

const (
	rsa1024CipherSize = 128
	preMasterSize     = 48
	storedSecretSize  = 70
)

// RSAGenerateKeypair opens E0FC for key generation and generates an RSA 1024 signing key.
func (r *Runner) RSAGenerateKeypair(ctx context.Context) error {
	return r.run(ctx, nameRSAGenerateKeypair, true, func(e *env) error {
		if err := e.wait(func() error { return e.util.WriteMetadata(uint16(optiga.KeyIDE0FC), changeExecuteAlways) }); err != nil {
			return err
		}
		keyID := optiga.KeyIDE0FC
		var pub []byte

		return e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.RSAGenerateKeypair(optiga.RSAKey1024Exp, optiga.KeyUsageSign, false, &keyID, nil, &pub)
			})
		})
	})
}

// RSASign signs the prepared digest with the key in E0FC.
func (r *Runner) RSASign(ctx context.Context) error {
	return r.run(ctx, nameRSASign, true, func(e *env) error {
		var sig []byte
		err := e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.RSASign(optiga.RSASignaturePKCS1v15SHA256, preparedDigest, optiga.KeyIDE0FC, &sig)
			})
		})
		if err != nil {
			return err
		}
		if len(sig) != rsa1024CipherSize {
			return fmt.Errorf("%w: signature is %d bytes", ErrMismatch, len(sig))
		}

		return nil
	})
}

// RSAVerify signs on the chip with E0FD and verifies with the exported public key.
func (r *Runner) RSAVerify(ctx context.Context) error {
	return r.run(ctx, nameRSAVerify, true, func(e *env) error {
		keyID := optiga.KeyIDE0FD
		var pub, sig []byte
		err := e.wait(func() error {
			return e.crypt.RSAGenerateKeypair(optiga.RSAKey1024Exp, optiga.KeyUsageSign, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}
		err = e.wait(func() error {
			return e.crypt.RSASign(optiga.RSASignaturePKCS1v15SHA256, preparedDigest, keyID, &sig)
		})
		if err != nil {
			return err
		}

		host := optiga.PublicKeyFromHost{Key: pub, Type: byte(optiga.RSAKey1024Exp)}

		return e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.RSAVerify(optiga.RSASignaturePKCS1v15SHA256, preparedDigest, sig, host)
			})
		})
	})
}

// RSAEncryptMessage encrypts a message to a host RSA key.
func (r *Runner) RSAEncryptMessage(ctx context.Context) error {
	return r.run(ctx, nameRSAEncryptMessage, true, func(e *env) error {
		key, err := newHostRSAKey()
		if err != nil {
			return err
		}
		host := optiga.PublicKeyFromHost{
			Key:  optiga.EncodeRSAPublicKey(&key.PublicKey),
			Type: byte(optiga.RSAKey1024Exp),
		}
		var enc []byte
		err = e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.RSAEncryptMessage(optiga.RSAESPKCS1v15, rsaMessage, host, &enc)
			})
		})
		if err != nil {
			return err
		}
		if len(enc) != rsa1024CipherSize {
			return fmt.Errorf("%w: ciphertext is %d bytes", ErrMismatch, len(enc))
		}

		return nil
	})
}

// RSAEncryptSession encrypts a pre-master secret held in a session context.
func (r *Runner) RSAEncryptSession(ctx context.Context) error {
	return r.run(ctx, nameRSAEncryptSession, true, func(e *env) error {
		keyID := optiga.KeyIDE0FC
		var pub, enc []byte
		e.crypt.SetProtectionLevel(optiga.NoProtection)
		err := e.wait(func() error {
			return e.crypt.RSAGenerateKeypair(optiga.RSAKey1024Exp, optiga.KeyUsageSign, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}
		err = e.wait(func() error { return e.crypt.RSAGeneratePreMasterSecret(preMasterOptional, preMasterSize) })
		if err != nil {
			return err
		}

		host := optiga.PublicKeyFromHost{Key: pub, Type: byte(optiga.RSAKey1024Exp)}

		return e.measure(func() error {
			return e.wait(func() error { return e.crypt.RSAEncryptSession(optiga.RSAESPKCS1v15, host, &enc) })
		})
	})
}

// RSADecryptAndStore decrypts an encrypted session secret back into the session.
func (r *Runner) RSADecryptAndStore(ctx context.Context) error {
	return r.run(ctx, nameRSADecryptAndStore, true, func(e *env) error {
		keyID := optiga.KeyIDE0FC
		var pub, enc []byte
		err := e.wait(func() error {
			return e.crypt.RSAGenerateKeypair(optiga.RSAKey1024Exp, optiga.KeyUsageEncryption, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}
		if err := e.wait(func() error { return e.crypt.RSAGeneratePreMasterSecret(nil, storedSecretSize) }); err != nil {
			return err
		}

		host := optiga.PublicKeyFromHost{Key: pub, Type: byte(optiga.RSAKey1024Exp)}
		e.crypt.SetProtectionLevel(optiga.FullProtection)
		if err := e.wait(func() error { return e.crypt.RSAEncryptSession(optiga.RSAESPKCS1v15, host, &enc) }); err != nil {
			return err
		}

		return e.measure(func() error {
			e.crypt.SetProtectionLevel(optiga.FullProtection)

			return e.wait(func() error { return e.crypt.RSADecryptAndStore(optiga.RSAESPKCS1v15, enc, keyID) })
		})
	})
}

// RSADecryptAndExport round-trips a message through RSA encryption on the chip.
func (r *Runner) RSADecryptAndExport(ctx context.Context) error {
	return r.run(ctx, nameRSADecryptAndExport, true, func(e *env) error {
		keyID := optiga.KeyIDE0FC
		var pub, enc, plain []byte
		err := e.wait(func() error {
			return e.crypt.RSAGenerateKeypair(optiga.RSAKey1024Exp, optiga.KeyUsageEncryption, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}

		host := optiga.PublicKeyFromHost{Key: pub, Type: byte(optiga.RSAKey1024Exp)}
		err = e.wait(func() error { return e.crypt.RSAEncryptMessage(optiga.RSAESPKCS1v15, rsaMessage, host, &enc) })
		if err != nil {
			return err
		}

		err = e.measure(func() error {
			e.crypt.SetProtectionLevel(optiga.FullProtection)

			return e.wait(func() error { return e.crypt.RSADecryptAndExport(optiga.RSAESPKCS1v15, enc, keyID, &plain) })
		})
		if err != nil {
			return err
		}
		if !bytes.Equal(plain, rsaMessage) {
			return fmt.Errorf("%w: decrypted message differs", ErrMismatch)
		}

		return nil
	})
}
