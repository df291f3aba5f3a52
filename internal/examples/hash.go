package examples

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/pkg/optiga"
)

const (
	nameHash     = "example_optiga_crypt_hash"
	nameHashData = "example_optiga_crypt_hash_data"
	nameRandom   = "example_optiga_crypt_random"
)

const (
	digestSize = 32
	randomSize = 32
)

// Hash digests the sample data with start, update and finalize.
func (r *Runner) Hash(ctx context.Context) error {
	return r.run(ctx, nameHash, true, func(e *env) error {
		hc := optiga.NewHashContext(optiga.HashTypeSHA256)
		var digest []byte
		err := e.measure(func() error {
			if err := e.wait(func() error { return e.crypt.HashStart(hc) }); err != nil {
				return err
			}
			if err := e.wait(func() error { return e.crypt.HashUpdate(hc, dataToHash) }); err != nil {
				return err
			}

			return e.wait(func() error { return e.crypt.HashFinalize(hc, &digest) })
		})
		if err != nil {
			return err
		}

		return checkDigest(digest)
	})
}

// HashData digests the sample data in one call.
func (r *Runner) HashData(ctx context.Context) error {
	return r.run(ctx, nameHashData, true, func(e *env) error {
		var digest []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.Hash(optiga.HashTypeSHA256, dataToHash, &digest) })
		})
		if err != nil {
			return err
		}

		return checkDigest(digest)
	})
}

func checkDigest(digest []byte) error {
	if len(digest) != digestSize {
		return fmt.Errorf("%w: digest is %d bytes", ErrMismatch, len(digest))
	}
	log.Debug().Str("event", "digest").Str("sha256", hex.EncodeToString(digest)).Msg("hash computed")

	return nil
}

// Random generates 32 bytes from the true random generator.
func (r *Runner) Random(ctx context.Context) error {
	return r.run(ctx, nameRandom, true, func(e *env) error {
		var random []byte
		err := e.measure(func() error {
			return e.wait(func() error { return e.crypt.RandomGenerate(optiga.RNGTypeTRNG, randomSize, &random) })
		})
		if err != nil {
			return err
		}
		if len(random) != randomSize {
			return fmt.Errorf("%w: got %d random bytes", ErrMismatch, len(random))
		}

		return nil
	})
}
