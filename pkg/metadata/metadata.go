// Package metadata builds and reads data-object metadata: a 0x20-tagged
// constructed TLV holding lifecycle state, access conditions and object type.
package metadata

import (
	"errors"
	"fmt"
	"sort"
)

// Metadata tags.
const (
	TagMetadata   byte = 0x20
	TagLcsO       byte = 0xC0
	TagVersion    byte = 0xC1
	TagMaxSize    byte = 0xC4
	TagUsedSize   byte = 0xC5
	TagChange     byte = 0xD0
	TagRead       byte = 0xD1
	TagExecute    byte = 0xD3
	TagAlgorithm  byte = 0xE0
	TagKeyUsage   byte = 0xE1
	TagObjectType byte = 0xE8
)

// Lifecycle states.
const (
	LcsCreation       byte = 0x01
	LcsInitialization byte = 0x03
	LcsOperational    byte = 0x07
	LcsTermination    byte = 0x0F
)

// Data-object types.
const (
	TypeByteString    byte = 0x00
	TypeUpCounter     byte = 0x01
	TypeTrustAnchor   byte = 0x11
	TypeDeviceCert    byte = 0x12
	TypePreSharedSec  byte = 0x21
	TypePlatformBind  byte = 0x22
	TypeUpdateSecret  byte = 0x23
	TypeAuthReference byte = 0x31
)

// Access-condition identifiers.
const (
	ACAlways byte = 0x00
	ACConf   byte = 0x20
	ACInt    byte = 0x21
	ACAuto   byte = 0x23
	ACLcsO   byte = 0xE1
	ACAnd    byte = 0xFD
	ACOr     byte = 0xFE
	ACNever  byte = 0xFF
	CmpEqual byte = 0xFA
	CmpGreat byte = 0xFB
	CmpLess  byte = 0xFC
)

var (
	ErrNotMetadata = errors.New("metadata: missing 0x20 tag")
	ErrTruncated   = errors.New("metadata: truncated TLV")
)

// Metadata maps tags to their encoded values.
type Metadata map[byte][]byte

// Parse decodes a 0x20 metadata TLV.
func Parse(b []byte) (Metadata, error) {
	if len(b) < 2 || b[0] != TagMetadata {
		return nil, ErrNotMetadata
	}
	if int(b[1]) != len(b)-2 {
		return nil, ErrTruncated
	}
	md := Metadata{}
	body := b[2:]
	for len(body) > 0 {
		if len(body) < 2 || int(body[1]) > len(body)-2 {
			return nil, ErrTruncated
		}
		n := int(body[1])
		md[body[0]] = append([]byte(nil), body[2:2+n]...)
		body = body[2+n:]
	}

	return md, nil
}

// Bytes encodes md as a 0x20 TLV with tags in ascending order.
func (md Metadata) Bytes() []byte {
	tags := make([]int, 0, len(md))
	for t := range md {
		tags = append(tags, int(t))
	}
	sort.Ints(tags)

	body := make([]byte, 0, 32)
	for _, t := range tags {
		v := md[byte(t)]
		body = append(body, byte(t), byte(len(v)))
		body = append(body, v...)
	}

	return append([]byte{TagMetadata, byte(len(body))}, body...)
}

// Get returns the value of tag.
func (md Metadata) Get(tag byte) ([]byte, bool) {
	v, ok := md[tag]

	return v, ok
}

// Set stores v under tag and returns md for chaining.
func (md Metadata) Set(tag byte, v ...byte) Metadata {
	md[tag] = append([]byte(nil), v...)

	return md
}

// Merge overlays other onto md.
func (md Metadata) Merge(other Metadata) {
	for t, v := range other {
		md[t] = append([]byte(nil), v...)
	}
}

// Lifecycle returns the LcsO value, Creation when absent.
func (md Metadata) Lifecycle() byte {
	if v, ok := md[TagLcsO]; ok && len(v) == 1 {
		return v[0]
	}

	return LcsCreation
}

// Type returns the data-object type, ByteString when absent.
func (md Metadata) Type() byte {
	if v, ok := md[TagObjectType]; ok && len(v) == 1 {
		return v[0]
	}

	return TypeByteString
}

// MaxSize returns the maximum object size, or 0 when absent.
func (md Metadata) MaxSize() int {
	v, ok := md[TagMaxSize]
	if !ok {
		return 0
	}
	n := 0
	for _, b := range v {
		n = n<<8 | int(b)
	}

	return n
}

// Clone returns a deep copy.
func (md Metadata) Clone() Metadata {
	out := make(Metadata, len(md))
	out.Merge(md)

	return out
}

// HasTag reports whether a raw 0x20 metadata TLV contains tag.
func HasTag(raw []byte, tag byte) bool {
	md, err := Parse(raw)
	if err != nil {
		return false
	}
	_, ok := md[tag]

	return ok
}

// Always is the ALW access condition.
func Always() []byte { return []byte{ACAlways} }

// Never is the NEV access condition.
func Never() []byte { return []byte{ACNever} }

// Conf requires a shielded connection keyed by the secret in oid.
func Conf(oid uint16) []byte { return []byte{ACConf, byte(oid >> 8), byte(oid)} }

// Int requires integrity protection by the trust anchor in oid.
func Int(oid uint16) []byte { return []byte{ACInt, byte(oid >> 8), byte(oid)} }

// Auto requires a prior authorization against the reference in oid.
func Auto(oid uint16) []byte { return []byte{ACAuto, byte(oid >> 8), byte(oid)} }

// LcsOLess requires the object lifecycle state below v.
func LcsOLess(v byte) []byte { return []byte{ACLcsO, CmpLess, v} }

// And joins conditions with the && operator.
func And(conds ...[]byte) []byte { return join(ACAnd, conds) }

// Or joins conditions with the || operator.
func Or(conds ...[]byte) []byte { return join(ACOr, conds) }

func join(op byte, conds [][]byte) []byte {
	var out []byte
	for i, c := range conds {
		if i > 0 {
			out = append(out, op)
		}
		out = append(out, c...)
	}

	return out
}

// Condition is one decoded access-condition term.
type Condition struct {
	ID  byte
	OID uint16
	Cmp byte
	Val byte
}

// Expression is a decoded access condition in disjunctive form: any group
// whose terms all hold satisfies it.
type Expression [][]Condition

// ParseCondition decodes an encoded access condition.
func ParseCondition(b []byte) (Expression, error) {
	var (
		expr  Expression
		group []Condition
	)
	for i := 0; i < len(b); {
		switch id := b[i]; id {
		case ACAlways, ACNever:
			group = append(group, Condition{ID: id})
			i++
		case ACConf, ACInt, ACAuto:
			if i+3 > len(b) {
				return nil, ErrTruncated
			}
			group = append(group, Condition{ID: id, OID: uint16(b[i+1])<<8 | uint16(b[i+2])})
			i += 3
		case ACLcsO:
			if i+3 > len(b) {
				return nil, ErrTruncated
			}
			group = append(group, Condition{ID: id, Cmp: b[i+1], Val: b[i+2]})
			i += 3
		case ACAnd:
			i++
		case ACOr:
			expr = append(expr, group)
			group = nil
			i++
		default:
			return nil, fmt.Errorf("metadata: unknown access condition 0x%02X", id)
		}
	}
	if len(group) > 0 {
		expr = append(expr, group)
	}

	return expr, nil
}

// Describe renders the decoded metadata as a name to value map for display.
func (md Metadata) Describe() map[string]string {
	names := map[byte]string{
		TagLcsO: "lcso", TagVersion: "version", TagMaxSize: "max_size",
		TagUsedSize: "used_size", TagChange: "change", TagRead: "read",
		TagExecute: "execute", TagAlgorithm: "algorithm", TagKeyUsage: "key_usage",
		TagObjectType: "type",
	}
	out := make(map[string]string, len(md))
	for t, v := range md {
		name, ok := names[t]
		if !ok {
			name = fmt.Sprintf("tag_%02x", t)
		}
		out[name] = fmt.Sprintf("%X", v)
	}

	return out
}
