package cipher

import (
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"slices"
)

type streamEncryptor struct {
	m   method
	key []byte
	ota bool

	enc   stdcipher.Stream
	encIV []byte
	dec   stdcipher.Stream
	decIV []byte

	// One-time auth state for the outbound direction.
	headerSent bool
	chunkID    uint32
	frame      []byte

	closed bool
}

func (e *streamEncryptor) Encrypt(dst, src []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}

	dst = dst[:0]
	if e.enc == nil {
		iv := make([]byte, e.m.ivLen)
		if _, err := rand.Read(iv); err != nil {
			return nil, fmt.Errorf("cipher iv: %w", err)
		}
		stream, err := e.m.stream(e.key, iv, false)
		if err != nil {
			return nil, fmt.Errorf("cipher init: %w", err)
		}
		e.enc, e.encIV = stream, iv
		dst = append(dst, iv...)
	}

	plain := src
	if e.ota {
		plain = e.authenticate(src)
	}

	off := len(dst)
	dst = slices.Grow(dst, len(plain))[:off+len(plain)]
	e.enc.XORKeyStream(dst[off:], plain)
	return dst, nil
}

func (e *streamEncryptor) Decrypt(dst, src []byte) ([]byte, error) {
	if e.closed {
		return nil, ErrClosed
	}

	dst = dst[:0]
	if e.dec == nil {
		need := e.m.ivLen - len(e.decIV)
		if len(src) < need {
			e.decIV = append(e.decIV, src...)
			return dst, nil
		}
		e.decIV = append(e.decIV, src[:need]...)
		src = src[need:]

		stream, err := e.m.stream(e.key, e.decIV, true)
		if err != nil {
			return nil, fmt.Errorf("cipher init: %w", err)
		}
		e.dec = stream
	}

	dst = slices.Grow(dst, len(src))[:len(src)]
	e.dec.XORKeyStream(dst, src)
	return dst, nil
}

func (e *streamEncryptor) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	clear(e.key)
	clear(e.frame)
	e.enc, e.dec = nil, nil
	return nil
}
