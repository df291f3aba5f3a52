package cryptoutils

import (
	"crypto/aes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// CBCMAC computes the AES CBC-MAC of msg with a zero IV. msg must already be
// a multiple of the block size.
func CBCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(msg) == 0 || len(msg)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc-mac: input length %d not a multiple of %d", len(msg), aes.BlockSize)
	}

	h := make([]byte, aes.BlockSize)
	for _, x := range Chunk(msg, aes.BlockSize) {
		xorIn, err := XORBytes(x, h)
		if err != nil {
			return nil, err
		}
		block.Encrypt(h, xorIn)
	}

	return h, nil
}

// TLSPRFSHA256 is the TLS 1.2 PRF with P_SHA256 (RFC 5246 section 5).
func TLSPRFSHA256(secret, label, seed []byte, n int) []byte {
	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	out := make([]byte, 0, n+sha256.Size)
	a := labelSeed
	for len(out) < n {
		m := hmac.New(sha256.New, secret)
		m.Write(a)
		a = m.Sum(nil)

		m = hmac.New(sha256.New, secret)
		m.Write(a)
		m.Write(labelSeed)
		out = m.Sum(out)
	}

	return out[:n]
}
