package examples

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const (
	nameTLSPRFSHA256   = "example_optiga_crypt_tls_prf_sha256"
	nameHMAC           = "example_optiga_crypt_hmac"
	nameHKDF           = "example_optiga_crypt_hkdf"
	nameHMACVerify     = "example_optiga_hmac_verify_with_authorization_reference"
	nameClearAutoState = "example_optiga_crypt_clear_auto_state"
)

const (
	derivedKeySize = 32
	authCodeSize   = 32
)

// writeSecret stores secret in F1D0 and applies md.
func (e *env) writeSecret(secret, md []byte) error {
	err := e.wait(func() error {
		return e.util.WriteData(optiga.OIDArbitraryF1D0, optiga.EraseAndWrite, 0, secret)
	})
	if err != nil {
		return err
	}

	return e.wait(func() error { return e.util.WriteMetadata(optiga.OIDArbitraryF1D0, md) })
}

// TLSPRFSHA256 derives a key from a shared secret readable only over a
// shielded connection, then restores the object metadata.
func (r *Runner) TLSPRFSHA256(ctx context.Context) error {
	return r.run(ctx, nameTLSPRFSHA256, true, func(e *env) error {
		if err := e.writeSecret(sharedSecret, shieldedPreSharedMD); err != nil {
			return err
		}

		var derived []byte
		err := e.measure(func() error {
			e.crypt.SetProtectionLevel(optiga.FullProtection)

			return e.wait(func() error {
				return e.crypt.TLSPRFSHA256(optiga.OIDArbitraryF1D0, prfLabel, prfSeed, derivedKeySize, true, &derived)
			})
		})
		if err != nil {
			return err
		}
		if len(derived) != derivedKeySize {
			return fmt.Errorf("%w: derived key is %d bytes", ErrMismatch, len(derived))
		}

		return e.wait(func() error { return e.util.WriteMetadata(optiga.OIDArbitraryF1D0, restoredMD) })
	})
}

// HMAC computes HMAC-SHA256 keyed by a pre-shared secret.
func (r *Runner) HMAC(ctx context.Context) error {
	return r.run(ctx, nameHMAC, true, func(e *env) error {
		if err := e.writeSecret(sharedSecret, preSharedMD); err != nil {
			return err
		}

		var mac []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.HMAC(optiga.HMACSHA256, optiga.OIDArbitraryF1D0, hmacInput, &mac) })
		})
		if err != nil {
			return err
		}

		m := hmac.New(sha256.New, sharedSecret)
		m.Write(hmacInput)
		if !hmac.Equal(mac, m.Sum(nil)) {
			return fmt.Errorf("%w: hmac differs from host computation", ErrMismatch)
		}

		return nil
	})
}

// HKDF derives 32 bytes with HKDF-SHA256 from a pre-shared secret.
func (r *Runner) HKDF(ctx context.Context) error {
	return r.run(ctx, nameHKDF, true, func(e *env) error {
		if err := e.writeSecret(sharedSecret, preSharedMD); err != nil {
			return err
		}

		var derived []byte
		err := e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.HKDF(optiga.HKDFSHA256, optiga.OIDArbitraryF1D0, hkdfSalt, hkdfInfo, derivedKeySize, true, &derived)
			})
		})
		if err != nil {
			return err
		}
		if len(derived) != derivedKeySize {
			return fmt.Errorf("%w: derived key is %d bytes", ErrMismatch, len(derived))
		}

		return nil
	})
}

// authorize sets up F1E0 behind Auto(F1D0) and satisfies it with an HMAC
// over a fresh authorization code.
func (e *env) authorize() error {
	if err := e.writeSecret(userSecret, authReferenceMD); err != nil {
		return err
	}
	err := e.wait(func() error {
		return e.util.WriteData(optiga.OIDArbitraryF1E0, optiga.EraseAndWrite, 0, protectedF1E0)
	})
	if err != nil {
		return err
	}
	autoMD := metadata.Metadata{}.Set(metadata.TagRead, metadata.Auto(optiga.OIDArbitraryF1D0)...).Bytes()
	if err := e.wait(func() error { return e.util.WriteMetadata(optiga.OIDArbitraryF1E0, autoMD) }); err != nil {
		return err
	}

	var random []byte
	err = e.wait(func() error {
		return e.crypt.GenerateAuthCode(optiga.RNGTypeTRNG, authOptional, authCodeSize, &random)
	})
	if err != nil {
		return err
	}
	challenge := append(append([]byte(nil), authOptional...), random...)
	m := hmac.New(sha256.New, userSecret)
	m.Write(challenge)
	mac := m.Sum(nil)

	return e.measure(func() error {
		return e.wait(func() error {
			return e.crypt.HMACVerify(optiga.HMACSHA256, optiga.OIDArbitraryF1D0, challenge, mac)
		})
	})
}

func (e *env) readProtected() error {
	var data []byte

	return e.wait(func() error { return e.util.ReadData(optiga.OIDArbitraryF1E0, 0, &data) })
}

// HMACVerifyWithAuthorizationReference unlocks a read of F1E0 by HMAC verification.
func (r *Runner) HMACVerifyWithAuthorizationReference(ctx context.Context) error {
	return r.run(ctx, nameHMACVerify, true, func(e *env) error {
		if err := e.authorize(); err != nil {
			return err
		}

		return e.readProtected()
	})
}

// ClearAutoState unlocks F1E0, clears the auto state and checks that the
// read is refused again.
func (r *Runner) ClearAutoState(ctx context.Context) error {
	return r.run(ctx, nameClearAutoState, true, func(e *env) error {
		if err := e.authorize(); err != nil {
			return err
		}
		if err := e.readProtected(); err != nil {
			return err
		}
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.ClearAutoState(optiga.OIDArbitraryF1D0) })
		})
		if err != nil {
			return err
		}

		err = e.readProtected()
		if errors.Is(err, errorcodes.Err8007) {
			return nil
		}
		if err == nil {
			return fmt.Errorf("%w: read allowed after clearing auto state", ErrMismatch)
		}

		return err
	})
}
