package examples

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const (
	nameSymmetricECB          = "example_optiga_crypt_symmetric_encrypt_decrypt_ecb"
	nameSymmetricCBC          = "example_optiga_crypt_symmetric_encrypt_decrypt_cbc"
	nameSymmetricCBCMAC       = "example_optiga_crypt_symmetric_encrypt_cbcmac"
	nameSymmetricGenerateKey  = "example_optiga_crypt_symmetric_generate_key"
	symmetricKeyGenerationLog = "Symmetric key generation"
)

const cbcMACSize = 16

// generateSymmetricKey provisions an AES-128 key in E200 unless one is already there.
func (e *env) generateSymmetricKey() error {
	var md []byte
	if err := e.wait(func() error { return e.util.ReadMetadata(uint16(optiga.KeyIDE200), &md) }); err != nil {
		return err
	}
	if optiga.CheckTagInMetadata(md, metadata.TagAlgorithm) {
		return nil
	}
	if err := e.wait(func() error { return e.util.WriteMetadata(uint16(optiga.KeyIDE200), changeExecuteAlways) }); err != nil {
		return err
	}
	keyID := optiga.KeyIDE200

	return e.measure(func() error {
		return e.wait(func() error {
			return e.crypt.SymmetricGenerateKey(optiga.SymmetricAES128, optiga.KeyUsageEncryption, false, &keyID, nil)
		})
	})
}

// SymmetricGenerateKey generates the AES-128 key in E200.
func (r *Runner) SymmetricGenerateKey(ctx context.Context) error {
	return r.run(ctx, nameSymmetricGenerateKey, true, func(e *env) error {
		return e.generateSymmetricKey()
	})
}

// SymmetricEncryptDecryptECB round-trips one block in ECB mode.
func (r *Runner) SymmetricEncryptDecryptECB(ctx context.Context) error {
	return r.run(ctx, nameSymmetricECB, true, func(e *env) error {
		r.out.Examplef(symmetricKeyGenerationLog)
		if err := e.generateSymmetricKey(); err != nil {
			return err
		}
		e.took = 0

		var enc, dec []byte
		err := e.measure(func() error {
			if err := e.wait(func() error { return e.crypt.SymmetricEncryptECB(optiga.KeyIDE200, ecbPlaintext, &enc) }); err != nil {
				return err
			}
			if len(enc) != len(ecbPlaintext) {
				return fmt.Errorf("%w: ciphertext is %d bytes", ErrMismatch, len(enc))
			}

			return e.wait(func() error { return e.crypt.SymmetricDecryptECB(optiga.KeyIDE200, enc, &dec) })
		})
		if err != nil {
			return err
		}

		return sameBytes(dec, ecbPlaintext)
	})
}

// SymmetricEncryptDecryptCBC round-trips two blocks in CBC mode.
func (r *Runner) SymmetricEncryptDecryptCBC(ctx context.Context) error {
	return r.run(ctx, nameSymmetricCBC, true, func(e *env) error {
		r.out.Examplef(symmetricKeyGenerationLog)
		if err := e.generateSymmetricKey(); err != nil {
			return err
		}
		e.took = 0

		var enc, dec []byte
		err := e.measure(func() error {
			err := e.wait(func() error { return e.crypt.SymmetricEncryptCBC(optiga.KeyIDE200, cbcIV, cbcPlaintext, &enc) })
			if err != nil {
				return err
			}
			if len(enc) != len(cbcPlaintext) {
				return fmt.Errorf("%w: ciphertext is %d bytes", ErrMismatch, len(enc))
			}

			return e.wait(func() error { return e.crypt.SymmetricDecryptCBC(optiga.KeyIDE200, cbcIV, enc, &dec) })
		})
		if err != nil {
			return err
		}

		return sameBytes(dec, cbcPlaintext)
	})
}

// SymmetricEncryptCBCMAC computes a CBC-MAC over two blocks.
func (r *Runner) SymmetricEncryptCBCMAC(ctx context.Context) error {
	return r.run(ctx, nameSymmetricCBCMAC, true, func(e *env) error {
		r.out.Examplef(symmetricKeyGenerationLog)
		if err := e.generateSymmetricKey(); err != nil {
			return err
		}
		e.took = 0

		var mac []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.SymmetricCBCMAC(optiga.KeyIDE200, cbcPlaintext, &mac) })
		})
		if err != nil {
			return err
		}
		if len(mac) != cbcMACSize {
			return fmt.Errorf("%w: mac is %d bytes", ErrMismatch, len(mac))
		}

		return nil
	})
}

func sameBytes(got, want []byte) error {
	if len(got) != len(want) || !bytes.Equal(got, want) {
		return fmt.Errorf("%w: decrypted data differs", ErrMismatch)
	}

	return nil
}
