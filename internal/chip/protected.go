package chip

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
	"github.com/andrei-cloud/go_optiga/pkg/apdu"
	"github.com/andrei-cloud/go_optiga/pkg/metadata"
	"github.com/andrei-cloud/go_optiga/pkg/protectedupdate"
)

// SetObjectProtected params.
const (
	ParamUpdateStart    byte = 0x01
	ParamUpdateContinue byte = 0x02
	ParamUpdateFinal    byte = 0x03
)

type updateState struct {
	manifest protectedupdate.Manifest
	target   *object
	expected []byte
	payload  []byte
}

func (c *Chip) executeSetObjectProtected(cmd apdu.Command, _ *request) ([]apdu.Field, error) {
	data, ok := cmd.Get(apdu.TagData)
	if !ok {
		return nil, errorcodes.Err8005
	}

	switch cmd.Param {
	case ParamUpdateStart:
		c.update = nil
		st, err := c.startUpdate(data)
		if err != nil {
			return nil, err
		}
		c.update = st

		return nil, nil
	case ParamUpdateContinue, ParamUpdateFinal:
		st := c.update
		if st == nil {
			return nil, errorcodes.Err800B
		}
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], st.expected) {
			c.update = nil
			c.raiseSecurityEvent()

			return nil, errorcodes.Err802D
		}
		if cmd.Param == ParamUpdateContinue {
			if len(data) <= sha256.Size {
				c.update = nil

				return nil, errorcodes.Err8005
			}
			cut := len(data) - sha256.Size
			st.payload = append(st.payload, data[:cut]...)
			st.expected = append([]byte(nil), data[cut:]...)

			return nil, nil
		}

		c.update = nil
		st.payload = append(st.payload, data...)
		if len(st.payload) != st.manifest.PayloadLength {
			return nil, errorcodes.Err8005
		}
		if err := writeAt(st.target, 0, st.payload, true); err != nil {
			return nil, err
		}
		v := st.manifest.PayloadVersion
		st.target.md.Set(metadata.TagVersion, byte(v>>8), byte(v))
		log.Info().
			Str("event", "protected_update_done").
			Uint16("oid", st.manifest.TargetOID).
			Uint16("payload_version", v).
			Msg("protected update applied")

		return nil, nil
	default:
		return nil, errorcodes.Err8003
	}
}

func (c *Chip) startUpdate(signed []byte) (*updateState, error) {
	m, err := protectedupdate.Parse(signed)
	if err != nil {
		return nil, errorcodes.Err800F
	}
	target, ok := c.objects[m.TargetOID]
	if !ok || target.md.MaxSize() == 0 {
		return nil, errorcodes.Err8001
	}
	if !bindsIntegrity(target, m.TrustAnchorOID) ||
		!c.allowed(target, metadata.TagChange, &request{integrity: m.TrustAnchorOID}) {
		return nil, errorcodes.Err8007
	}

	anchor, ok := c.objects[m.TrustAnchorOID]
	if !ok || anchor.md.Type() != metadata.TypeTrustAnchor || len(anchor.data) == 0 {
		return nil, errorcodes.Err8026
	}
	cert, err := x509.ParseCertificate(anchor.data)
	if err != nil {
		return nil, errorcodes.Err8029
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, errorcodes.Err802A
	}

	m, err = protectedupdate.Verify(signed, pub)
	switch {
	case errors.Is(err, protectedupdate.ErrSignature):
		c.raiseSecurityEvent()

		return nil, errorcodes.Err802C
	case err != nil:
		return nil, errorcodes.Err800F
	}

	current := 0
	if v, ok := target.md[metadata.TagVersion]; ok && len(v) == 2 {
		current = int(v[0])<<8 | int(v[1])
	}
	if int(m.PayloadVersion) <= current {
		return nil, errorcodes.Err8010
	}
	if m.PayloadLength > target.md.MaxSize() {
		return nil, errorcodes.Err8008
	}

	return &updateState{manifest: m, target: target, expected: m.FirstDigest}, nil
}

// bindsIntegrity reports whether the change condition of obj names Int(anchor).
func bindsIntegrity(obj *object, anchor uint16) bool {
	expr, err := metadata.ParseCondition(obj.md[metadata.TagChange])
	if err != nil {
		return false
	}
	for _, group := range expr {
		for _, cond := range group {
			if cond.ID == metadata.ACInt && cond.OID == anchor {
				return true
			}
		}
	}

	return false
}
