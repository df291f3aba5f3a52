package examples

import (
	"context"
	"fmt"

	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const (
	nameECCGenerateKeypair = "example_optiga_crypt_ecc_generate_keypair"
	nameECDSASign          = "example_optiga_crypt_ecdsa_sign"
	nameECDSAVerify        = "example_optiga_crypt_ecdsa_verify"
	nameECDH               = "example_optiga_crypt_ecdh"
)

const sharedSecretSize = 32

// ECCGenerateKeypair generates a P-256 signing key in E0F1 and exports its public key.
func (r *Runner) ECCGenerateKeypair(ctx context.Context) error {
	return r.run(ctx, nameECCGenerateKeypair, true, func(e *env) error {
		keyID := optiga.KeyIDE0F1
		var pub []byte

		return e.measure(func() error {
			return e.wait(func() error {
				return e.crypt.ECCGenerateKeypair(optiga.ECCCurveNISTP256, optiga.KeyUsageSign, false, &keyID, nil, &pub)
			})
		})
	})
}

// ECDSASign signs the prepared digest with the device key.
func (r *Runner) ECDSASign(ctx context.Context) error {
	return r.run(ctx, nameECDSASign, true, func(e *env) error {
		var sig []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.ECDSASign(preparedDigest, optiga.KeyIDE0F0, &sig) })
		})
		if err != nil {
			return err
		}
		if _, _, err := optiga.ParseECDSASignature(sig); err != nil {
			return fmt.Errorf("%w: signature: %v", ErrMismatch, err)
		}

		return nil
	})
}

// ECDSAVerify verifies the fixed signature vector with a host-supplied key.
func (r *Runner) ECDSAVerify(ctx context.Context) error {
	return r.run(ctx, nameECDSAVerify, true, func(e *env) error {
		pub := optiga.PublicKeyFromHost{
			Key:  optiga.EncodeECCPublicKey(verifyPublicKey),
			Type: byte(optiga.ECCCurveNISTP256),
		}

		return e.measure(func() error {
			return e.wait(func() error { return e.crypt.ECDSAVerify(verifyDigest, verifySignature, pub) })
		})
	})
}

// ECDH generates a session key pair and agrees a secret with a fixed peer key.
func (r *Runner) ECDH(ctx context.Context) error {
	return r.run(ctx, nameECDH, true, func(e *env) error {
		keyID := optiga.KeyIDSessionBased
		var pub, secret []byte

		e.crypt.SetProtectionLevel(optiga.FullProtection)
		err := e.wait(func() error {
			return e.crypt.ECCGenerateKeypair(optiga.ECCCurveNISTP256, optiga.KeyUsageKeyAgreement, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}

		peer := optiga.PublicKeyFromHost{
			Key:  optiga.EncodeECCPublicKey(peerPublicKey),
			Type: byte(optiga.ECCCurveNISTP256),
		}
		err = e.measure(func() error {
			e.crypt.SetProtectionLevel(optiga.FullProtection)

			return e.wait(func() error { return e.crypt.ECDH(keyID, peer, true, &secret) })
		})
		if err != nil {
			return err
		}
		if len(secret) != sharedSecretSize {
			return fmt.Errorf("%w: shared secret is %d bytes", ErrMismatch, len(secret))
		}

		return nil
	})
}
