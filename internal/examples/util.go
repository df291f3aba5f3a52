package examples

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/optiga"
	"github.com/andrei-cloud/go_optiga/pkg/protectedupdate"
)

// Example names as printed in the example log.
const (
	nameReadData         = "example_optiga_util_read_data"
	nameWriteData        = "example_optiga_util_write_data"
	nameCoprocessorID    = "example_read_coprocessor_id"
	namePairHost         = "example_pair_host_and_optiga_using_pre_shared_secret"
	nameHibernateRestore = "example_optiga_util_hibernate_restore"
	nameUpdateCount      = "example_optiga_util_update_count"
	nameProtectedUpdate  = "example_optiga_util_protected_update"
)

const (
	bindingSecretSize      = 64
	coprocessorUIDSize     = 27
	counterIncrements      = 3
	updateFragmentSize     = 400
	securityCounterBackoff = 50 * time.Millisecond
)

// ReadData reads the device certificate and its metadata.
func (r *Runner) ReadData(ctx context.Context) error {
	return r.run(ctx, nameReadData, true, func(e *env) error {
		var cert, md []byte
		err := e.measure(func() error {
			if err := e.wait(func() error { return e.util.ReadData(optiga.OIDDeviceCert, 0, &cert) }); err != nil {
				return err
			}

			return e.wait(func() error { return e.util.ReadMetadata(optiga.OIDDeviceCert, &md) })
		})
		if err != nil {
			return err
		}

		parsed, err := x509.ParseCertificate(cert)
		if err != nil {
			return fmt.Errorf("%w: device certificate: %v", ErrMismatch, err)
		}
		log.Debug().
			Str("event", "device_certificate").
			Int("length", len(cert)).
			Str("subject", parsed.Subject.String()).
			Str("metadata", hex.EncodeToString(md)).
			Msg("read device certificate")

		return nil
	})
}

// WriteData writes a trust anchor certificate and marks the object as a trust anchor.
func (r *Runner) WriteData(ctx context.Context) error {
	return r.run(ctx, nameWriteData, true, func(e *env) error {
		ta, err := r.trustAnchor()
		if err != nil {
			return err
		}

		return e.measure(func() error {
			err := e.wait(func() error {
				return e.util.WriteData(optiga.OIDTrustAnchor, optiga.EraseAndWrite, 0, ta.cert)
			})
			if err != nil {
				return err
			}

			return e.wait(func() error { return e.util.WriteMetadata(optiga.OIDTrustAnchor, trustAnchorMD) })
		})
	})
}

var trustAnchorMD = metadata.Metadata{}.Set(metadata.TagObjectType, metadata.TypeTrustAnchor).Bytes()

// CoprocessorID reads the coprocessor UID and logs its components.
func (r *Runner) CoprocessorID(ctx context.Context) error {
	return r.run(ctx, nameCoprocessorID, true, func(e *env) error {
		var uid []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.util.ReadData(optiga.OIDCoprocessorUID, 0, &uid) })
		})
		if err != nil {
			return err
		}
		if len(uid) != coprocessorUIDSize {
			return fmt.Errorf("%w: coprocessor uid is %d bytes", ErrMismatch, len(uid))
		}
		for _, f := range splitUID(uid) {
			r.out.Examplef("%-26s: %s", f.name, f.value)
		}

		return nil
	})
}

type uidField struct {
	name  string
	value string
}

// splitUID breaks the coprocessor UID into its fixed-width components.
func splitUID(uid []byte) []uidField {
	layout := []struct {
		name string
		size int
	}{
		{"CIM Identifier", 1},
		{"Platform Identifier", 1},
		{"Model Identifier", 1},
		{"ID of ROM mask", 2},
		{"Chip Type", 6},
		{"Batch Number", 6},
		{"X-coordinate", 2},
		{"Y-coordinate", 2},
		{"Firmware Identifier", 4},
		{"ESW build number", 2},
	}
	out := make([]uidField, 0, len(layout))
	off := 0
	for _, l := range layout {
		out = append(out, uidField{name: l.name, value: strings.ToUpper(hex.EncodeToString(uid[off : off+l.size]))})
		off += l.size
	}

	return out
}

// PairHost generates a new platform binding secret, writes it to the chip
// and stores it on the host.
func (r *Runner) PairHost(ctx context.Context) error {
	return r.run(ctx, namePairHost, true, r.pairHost)
}

func (r *Runner) pairHost(e *env) error {
	store := r.host.Secrets()
	if store == nil {
		return fmt.Errorf("%w: no host datastore", ErrMismatch)
	}

	var raw []byte
	if err := e.wait(func() error { return e.util.ReadMetadata(optiga.OIDBindingSecret, &raw) }); err != nil {
		return err
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: binding secret metadata: %v", ErrMismatch, err)
	}
	if md.Lifecycle() == metadata.LcsOperational {
		// the binding secret is locked; the stored host copy stays in use
		log.Info().Str("event", "pairing_skipped").Msg("binding secret lifecycle is operational")

		return nil
	}

	return e.measure(func() error {
		var secret []byte
		err := e.wait(func() error { return e.crypt.RandomGenerate(optiga.RNGTypeTRNG, bindingSecretSize, &secret) })
		if err != nil {
			return err
		}
		e.util.SetProtectionLevel(optiga.NoProtection)
		err = e.wait(func() error {
			return e.util.WriteData(optiga.OIDBindingSecret, optiga.EraseAndWrite, 0, secret)
		})
		if err != nil {
			return err
		}

		return store.SetBindingSecret(secret)
	})
}

// HibernateRestore keeps a session key across a hibernate and restore cycle.
func (r *Runner) HibernateRestore(ctx context.Context) error {
	return r.run(ctx, nameHibernateRestore, false, func(e *env) error {
		if err := e.wait(func() error { return e.util.OpenApplication(false) }); err != nil {
			return err
		}
		if err := r.pairHost(e); err != nil {
			return err
		}

		keyID := optiga.KeyIDSessionBased
		var pub []byte
		e.crypt.SetProtectionLevel(optiga.FullProtection)
		err := e.wait(func() error {
			return e.crypt.ECCGenerateKeypair(optiga.ECCCurveNISTP256, optiga.KeyUsageSign, false, &keyID, nil, &pub)
		})
		if err != nil {
			return err
		}

		if err := e.waitSecurityCounter(); err != nil {
			return err
		}

		return e.measure(func() error {
			if err := e.wait(func() error { return e.util.CloseApplication(true) }); err != nil {
				return err
			}
			if err := e.wait(func() error { return e.util.OpenApplication(true) }); err != nil {
				return err
			}

			var sig []byte
			if err := e.wait(func() error { return e.crypt.ECDSASign(preparedDigest, keyID, &sig) }); err != nil {
				return err
			}
			host := optiga.PublicKeyFromHost{Key: pub, Type: byte(optiga.ECCCurveNISTP256)}
			if err := e.wait(func() error { return e.crypt.ECDSAVerify(preparedDigest, sig, host) }); err != nil {
				return err
			}

			return e.wait(func() error { return e.util.CloseApplication(false) })
		})
	})
}

// waitSecurityCounter polls the security event counter until it reads zero.
func (e *env) waitSecurityCounter() error {
	for {
		var sec []byte
		if err := e.wait(func() error { return e.util.ReadData(optiga.OIDSecurityCounter, 0, &sec) }); err != nil {
			return err
		}
		if len(sec) == 1 && sec[0] == 0 {
			return nil
		}
		select {
		case <-e.ctx.Done():
			return e.ctx.Err()
		case <-time.After(securityCounterBackoff):
		}
	}
}

// UpdateCounter initialises a monotonic counter and increments it.
func (r *Runner) UpdateCounter(ctx context.Context) error {
	return r.run(ctx, nameUpdateCount, true, func(e *env) error {
		err := e.wait(func() error {
			return e.util.WriteData(optiga.OIDCounter1, optiga.EraseAndWrite, 0, counterInit)
		})
		if err != nil {
			return err
		}

		return e.measure(func() error {
			for i := 0; i < counterIncrements; i++ {
				if err := e.wait(func() error { return e.util.UpdateCount(optiga.OIDCounter1, 1) }); err != nil {
					return err
				}
			}

			return nil
		})
	})
}

// ProtectedUpdate binds the target to a trust anchor, provisions the anchor
// and replaces the target with a signed payload.
func (r *Runner) ProtectedUpdate(ctx context.Context) error {
	return r.run(ctx, nameProtectedUpdate, true, func(e *env) error {
		ta, err := r.trustAnchor()
		if err != nil {
			return err
		}

		targetMD := metadata.Metadata{}.Set(metadata.TagChange, metadata.Int(optiga.OIDTrustAnchor)...).Bytes()
		if err := e.wait(func() error { return e.util.WriteMetadata(optiga.OIDCert1, targetMD) }); err != nil {
			return err
		}
		if err := e.wait(func() error { return e.util.WriteMetadata(optiga.OIDTrustAnchor, trustAnchorMD) }); err != nil {
			return err
		}
		err = e.wait(func() error {
			return e.util.WriteData(optiga.OIDTrustAnchor, optiga.EraseAndWrite, 0, ta.cert)
		})
		if err != nil {
			return err
		}

		version, err := e.payloadVersion(optiga.OIDCert1)
		if err != nil {
			return err
		}
		payload, err := ta.issue("OPTIGA Trust M protected update")
		if err != nil {
			return err
		}
		manifest := protectedupdate.Manifest{
			TargetOID:      optiga.OIDCert1,
			TrustAnchorOID: optiga.OIDTrustAnchor,
			PayloadVersion: version + 1,
		}
		signed, frags, err := protectedupdate.Build(manifest, payload, updateFragmentSize, ta.key)
		if err != nil {
			return err
		}

		return e.measure(func() error {
			if err := e.wait(func() error { return e.util.ProtectedUpdateStart(signed) }); err != nil {
				return err
			}
			for _, frag := range frags[:len(frags)-1] {
				if err := e.wait(func() error { return e.util.ProtectedUpdateContinue(frag) }); err != nil {
					return err
				}
			}

			return e.wait(func() error { return e.util.ProtectedUpdateFinal(frags[len(frags)-1]) })
		})
	})
}

// payloadVersion returns the version recorded by the last protected update of oid.
func (e *env) payloadVersion(oid uint16) (uint16, error) {
	var raw []byte
	if err := e.wait(func() error { return e.util.ReadMetadata(oid, &raw) }); err != nil {
		return 0, err
	}
	md, err := metadata.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: metadata of %04X: %v", ErrMismatch, oid, err)
	}
	v, ok := md.Get(metadata.TagVersion)
	if !ok || len(v) != 2 {
		return 0, nil
	}

	return uint16(v[0])<<8 | uint16(v[1]), nil
}
