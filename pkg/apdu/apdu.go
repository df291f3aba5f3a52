// Package apdu encodes the command and response frames exchanged between the
// host driver and the security chip.
//
// A command is [cmd:1][param:1][len:2][data] and a response is
// [sta:1][0x00][len:2][data]. Command data is a sequence of TLV fields
// [tag:1][len:2][value]. A failing response carries the 2-byte device error
// code as its data.
package apdu

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/andrei-cloud/go_optiga/internal/errorcodes"
)

// Command codes understood by the chip.
const (
	CmdGetDataObject      byte = 0x01
	CmdSetDataObject      byte = 0x02
	CmdSetObjectProtected byte = 0x03
	CmdGetRandom          byte = 0x0C
	CmdEncryptSym         byte = 0x14
	CmdDecryptSym         byte = 0x15
	CmdClearAutoState     byte = 0x16
	CmdGenAuthCode        byte = 0x1D
	CmdEncryptAsym        byte = 0x1E
	CmdDecryptAsym        byte = 0x1F
	CmdCalcHash           byte = 0xB0
	CmdCalcSign           byte = 0xB1
	CmdVerifySign         byte = 0xB2
	CmdCalcSSec           byte = 0xB3
	CmdDeriveKey          byte = 0xB4
	CmdGenKeyPair         byte = 0xB8
	CmdGenSymKey          byte = 0xB9
	CmdOpenApplication    byte = 0xF0
	CmdCloseApplication   byte = 0xF1
)

// Field tags of command and response data.
const (
	TagOID       byte = 0x01
	TagOffset    byte = 0x02
	TagData      byte = 0x03
	TagLength    byte = 0x04
	TagAlgorithm byte = 0x05
	TagUsage     byte = 0x06
	TagExport    byte = 0x07
	TagDigest    byte = 0x08
	TagSignature byte = 0x09
	TagPublicKey byte = 0x0A
	TagSecretOID byte = 0x0B
	TagLabel     byte = 0x0C
	TagSeed      byte = 0x0D
	TagSalt      byte = 0x0E
	TagInfo      byte = 0x0F
	TagIV        byte = 0x10
	TagMode      byte = 0x11
	TagContext   byte = 0x12
	TagOptional  byte = 0x13
	TagScheme    byte = 0x14
	TagCount     byte = 0x15
	TagHandle    byte = 0x16
	TagMAC       byte = 0x17
)

const (
	statusSuccess byte = 0x00
	statusFailure byte = 0xFF
	headerLen          = 4
)

var (
	ErrShortFrame  = errors.New("apdu: frame shorter than header")
	ErrLength      = errors.New("apdu: length field does not match frame")
	ErrMalformedTL = errors.New("apdu: malformed field")
)

var commandNames = map[byte]string{
	CmdGetDataObject:      "GetDataObject",
	CmdSetDataObject:      "SetDataObject",
	CmdSetObjectProtected: "SetObjectProtected",
	CmdGetRandom:          "GetRandom",
	CmdEncryptSym:         "EncryptSym",
	CmdDecryptSym:         "DecryptSym",
	CmdClearAutoState:     "ClearAutoState",
	CmdGenAuthCode:        "GenAuthCode",
	CmdEncryptAsym:        "EncryptAsym",
	CmdDecryptAsym:        "DecryptAsym",
	CmdCalcHash:           "CalcHash",
	CmdCalcSign:           "CalcSign",
	CmdVerifySign:         "VerifySign",
	CmdCalcSSec:           "CalcSSec",
	CmdDeriveKey:          "DeriveKey",
	CmdGenKeyPair:         "GenKeyPair",
	CmdGenSymKey:          "GenSymKey",
	CmdOpenApplication:    "OpenApplication",
	CmdCloseApplication:   "CloseApplication",
}

// CommandName returns the mnemonic of a command code.
func CommandName(code byte) string {
	if n, ok := commandNames[code]; ok {
		return n
	}

	return fmt.Sprintf("0x%02X", code)
}

// Field is one TLV entry of command or response data.
type Field struct {
	Tag   byte
	Value []byte
}

// Command is a decoded command frame.
type Command struct {
	Code   byte
	Param  byte
	Fields []Field
}

// NewCommand builds a command from its code, param and fields.
func NewCommand(code, param byte, fields ...Field) Command {
	return Command{Code: code, Param: param, Fields: fields}
}

// Uint16 builds a field holding a big-endian 16-bit value.
func Uint16(tag byte, v uint16) Field {
	return Field{Tag: tag, Value: []byte{byte(v >> 8), byte(v)}}
}

// Byte builds a single-byte field.
func Byte(tag, v byte) Field {
	return Field{Tag: tag, Value: []byte{v}}
}

// Bytes builds a field holding raw bytes.
func Bytes(tag byte, v []byte) Field {
	return Field{Tag: tag, Value: v}
}

// Bytes encodes the command frame.
func (c Command) Bytes() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(c.Code)
	b.AddUint8(c.Param)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		addFields(b, c.Fields)
	})

	return b.BytesOrPanic()
}

// Get returns the value of the first field with tag.
func (c Command) Get(tag byte) ([]byte, bool) {
	return lookup(c.Fields, tag)
}

// Uint16 returns the 16-bit value of tag.
func (c Command) Uint16(tag byte) (uint16, bool) {
	v, ok := c.Get(tag)
	if !ok || len(v) != 2 {
		return 0, false
	}

	return uint16(v[0])<<8 | uint16(v[1]), true
}

// Byte returns the single-byte value of tag.
func (c Command) Byte(tag byte) (byte, bool) {
	v, ok := c.Get(tag)
	if !ok || len(v) != 1 {
		return 0, false
	}

	return v[0], true
}

// ParseCommand decodes a command frame.
func ParseCommand(frame []byte) (Command, error) {
	if len(frame) < headerLen {
		return Command{}, ErrShortFrame
	}
	s := cryptobyte.String(frame)
	var (
		c    Command
		data cryptobyte.String
	)
	if !s.ReadUint8(&c.Code) || !s.ReadUint8(&c.Param) || !s.ReadUint16LengthPrefixed(&data) ||
		!s.Empty() {
		return Command{}, ErrLength
	}
	fields, err := ParseFields(data)
	if err != nil {
		return Command{}, err
	}
	c.Fields = fields

	return c, nil
}

// Response is a decoded response frame.
type Response struct {
	Status byte
	Data   []byte
}

// Success returns a successful response carrying fields.
func Success(fields ...Field) Response {
	if len(fields) == 0 {
		return Response{Status: statusSuccess}
	}
	b := cryptobyte.NewBuilder(nil)
	addFields(b, fields)

	return Response{Status: statusSuccess, Data: b.BytesOrPanic()}
}

// Failure returns a failing response carrying code.
func Failure(code uint16) Response {
	return Response{Status: statusFailure, Data: []byte{byte(code >> 8), byte(code)}}
}

// Bytes encodes the response frame.
func (r Response) Bytes() []byte {
	b := cryptobyte.NewBuilder(nil)
	b.AddUint8(r.Status)
	b.AddUint8(0x00)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(r.Data)
	})

	return b.BytesOrPanic()
}

// Err returns the device status of a failing response, nil on success.
func (r Response) Err() error {
	if r.Status == statusSuccess {
		return nil
	}
	if len(r.Data) != 2 {
		return errorcodes.Err80FF
	}

	return errorcodes.Lookup(uint16(r.Data[0])<<8 | uint16(r.Data[1]))
}

// Fields decodes the response data of a successful response.
func (r Response) Fields() ([]Field, error) {
	return ParseFields(r.Data)
}

// ParseResponse decodes a response frame.
func ParseResponse(frame []byte) (Response, error) {
	if len(frame) < headerLen {
		return Response{}, ErrShortFrame
	}
	s := cryptobyte.String(frame)
	var (
		r        Response
		reserved uint8
		data     cryptobyte.String
	)
	if !s.ReadUint8(&r.Status) || !s.ReadUint8(&reserved) ||
		!s.ReadUint16LengthPrefixed(&data) || !s.Empty() {
		return Response{}, ErrLength
	}
	r.Data = append([]byte(nil), data...)

	return r, nil
}

// ParseFields decodes a TLV field sequence.
func ParseFields(data []byte) ([]Field, error) {
	s := cryptobyte.String(data)
	var fields []Field
	for !s.Empty() {
		var (
			tag uint8
			v   cryptobyte.String
		)
		if !s.ReadUint8(&tag) || !s.ReadUint16LengthPrefixed(&v) {
			return nil, ErrMalformedTL
		}
		fields = append(fields, Field{Tag: tag, Value: append([]byte(nil), v...)})
	}

	return fields, nil
}

// Lookup returns the value of the first field with tag.
func Lookup(fields []Field, tag byte) ([]byte, bool) {
	return lookup(fields, tag)
}

func lookup(fields []Field, tag byte) ([]byte, bool) {
	for _, f := range fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}

	return nil, false
}

func addFields(b *cryptobyte.Builder, fields []Field) {
	for _, f := range fields {
		b.AddUint8(f.Tag)
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(f.Value)
		})
	}
}
