package apdu

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Frame flags.
const (
	FlagMAC             byte = 0x01 // frame carries a trailing MAC
	FlagResponseProtect byte = 0x02 // request asks for a MAC on the response
)

// MACSize is the length of the trailing HMAC-SHA256.
const MACSize = sha256.Size

const frameHeaderLen = 9

// Frame is the transport envelope around a command or response:
// [flags:1][client:4][seq:4][payload][mac]. Sequence numbers are counted per client.
type Frame struct {
	Flags   byte
	Client  uint32
	Seq     uint32
	Payload []byte
	MAC     []byte
}

// Seal builds a frame for client 0; when key is non-nil the MAC flag is set and the MAC appended.
func Seal(flags byte, seq uint32, payload, key []byte) Frame {
	return SealFor(0, flags, seq, payload, key)
}

// SealFor is Seal for the given client.
func SealFor(client uint32, flags byte, seq uint32, payload, key []byte) Frame {
	f := Frame{Flags: flags &^ FlagMAC, Client: client, Seq: seq, Payload: payload}
	if key != nil {
		f.Flags |= FlagMAC
		f.MAC = f.computeMAC(key)
	}

	return f
}

// Bytes encodes the frame.
func (f Frame) Bytes() []byte {
	out := make([]byte, frameHeaderLen, frameHeaderLen+len(f.Payload)+len(f.MAC))
	out[0] = f.Flags
	binary.BigEndian.PutUint32(out[1:], f.Client)
	binary.BigEndian.PutUint32(out[5:], f.Seq)
	out = append(out, f.Payload...)

	return append(out, f.MAC...)
}

// Protected reports whether the frame carries a MAC.
func (f Frame) Protected() bool {
	return f.Flags&FlagMAC != 0
}

// Verify checks the frame MAC under key. An unprotected frame never verifies.
func (f Frame) Verify(key []byte) bool {
	if !f.Protected() || len(f.MAC) != MACSize || key == nil {
		return false
	}

	return hmac.Equal(f.MAC, f.computeMAC(key))
}

func (f Frame) computeMAC(key []byte) []byte {
	m := hmac.New(sha256.New, key)
	var hdr [frameHeaderLen]byte
	hdr[0] = f.Flags | FlagMAC
	binary.BigEndian.PutUint32(hdr[1:], f.Client)
	binary.BigEndian.PutUint32(hdr[5:], f.Seq)
	m.Write(hdr[:])
	m.Write(f.Payload)

	return m.Sum(nil)
}

// ParseFrame decodes a transport frame.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < frameHeaderLen {
		return Frame{}, ErrShortFrame
	}
	f := Frame{
		Flags:  b[0],
		Client: binary.BigEndian.Uint32(b[1:5]),
		Seq:    binary.BigEndian.Uint32(b[5:frameHeaderLen]),
	}
	body := b[frameHeaderLen:]
	if f.Protected() {
		if len(body) < MACSize {
			return Frame{}, ErrLength
		}
		f.MAC = append([]byte(nil), body[len(body)-MACSize:]...)
		body = body[:len(body)-MACSize]
	}
	f.Payload = append([]byte(nil), body...)

	return f, nil
}
