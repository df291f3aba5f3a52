package chip

import (
	"crypto/sha256"
	"encoding"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
)

// ParamHashSHA256 selects SHA-256 in CalcHash.
const ParamHashSHA256 byte = 0xE2

// CalcHash sequence values carried in TagMode.
const (
	HashStart    byte = 0x00
	HashUpdate   byte = 0x01
	HashFinalize byte = 0x02
	HashOneShot  byte = 0x03
)

// executeCalcHash keeps no state on the chip: intermediate contexts are
// exported to the host and handed back on every update.
func (c *Chip) executeCalcHash(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	if cmd.Param != ParamHashSHA256 {
		return nil, errorcodes.Err8003
	}
	mode, ok := cmd.Byte(apdu.TagMode)
	if !ok {
		return nil, errorcodes.Err8005
	}
	data, _ := cmd.Get(apdu.TagData)

	switch mode {
	case HashOneShot:
		sum := sha256.Sum256(data)

		return []apdu.Field{apdu.Bytes(apdu.TagDigest, sum[:])}, nil
	case HashStart:
		ctx, err := exportHash(sha256.New())
		if err != nil {
			return nil, err
		}

		return []apdu.Field{apdu.Bytes(apdu.TagContext, ctx)}, nil
	case HashUpdate, HashFinalize:
		raw, ok := cmd.Get(apdu.TagContext)
		if !ok {
			return nil, errorcodes.Err8005
		}
		h := sha256.New()
		if err := h.(encoding.BinaryUnmarshaler).UnmarshalBinary(raw); err != nil {
			return nil, errorcodes.Err8005
		}
		h.Write(data)
		if mode == HashFinalize {
			return []apdu.Field{apdu.Bytes(apdu.TagDigest, h.Sum(nil))}, nil
		}
		ctx, err := exportHash(h)
		if err != nil {
			return nil, err
		}

		return []apdu.Field{apdu.Bytes(apdu.TagContext, ctx)}, nil
	default:
		return nil, errorcodes.Err8005
	}
}

func exportHash(h any) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errorcodes.Err8006
	}
	ctx, err := m.MarshalBinary()
	if err != nil {
		return nil, errorcodes.Err8006
	}

	return ctx, nil
}
