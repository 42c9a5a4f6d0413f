package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	ctrIVSize  = aes.BlockSize // 16 bytes
	ctrMacSize = sha256.Size   // 32 bytes
	ctrMinSize = ctrIVSize + ctrMacSize
)

// ctrHMACCodec applies encrypt-then-MAC using AES-CTR for confidentiality and
// HMAC-SHA256 for integrity. Encryption and MAC keys are split from the
// derived key with HKDF-SHA256. Layout: [iv||ciphertext||mac].
type ctrHMACCodec struct{}

func (ctrHMACCodec) Name() string { return CodecAES256CTRHMAC }

func (ctrHMACCodec) Seal(key, plaintext []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("crypto: empty key")
	}
	encKey, macKey, err := splitCTRKeys(key)
	if err != nil {
		return nil, err
	}
	defer Zero(encKey)
	defer Zero(macKey)

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ctrIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	ct := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ct, plaintext)

	out := make([]byte, 0, ctrIVSize+len(ct)+ctrMacSize)
	out = append(out, iv...)
	out = append(out, ct...)
	out = append(out, computeMAC(macKey, iv, ct)...)
	return out, nil
}

func (ctrHMACCodec) Open(key, blob []byte) ([]byte, error) {
	if len(blob) < ctrMinSize || len(key) == 0 {
		return nil, ErrDecryptionFailed
	}

	iv := blob[:ctrIVSize]
	macStart := len(blob) - ctrMacSize
	body := blob[ctrIVSize:macStart]
	tag := blob[macStart:]

	encKey, macKey, err := splitCTRKeys(key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	defer Zero(encKey)
	defer Zero(macKey)

	if subtle.ConstantTimeCompare(computeMAC(macKey, iv, body), tag) != 1 {
		return nil, ErrDecryptionFailed
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	pt := make([]byte, len(body))
	cipher.NewCTR(block, iv).XORKeyStream(pt, body)
	return pt, nil
}

func splitCTRKeys(key []byte) (encKey, macKey []byte, err error) {
	stream := hkdf.New(sha256.New, key, nil, []byte("securevault/ctr-hmac/v1"))
	encKey = make([]byte, 32)
	macKey = make([]byte, 32)
	if _, err = io.ReadFull(stream, encKey); err != nil {
		return nil, nil, err
	}
	if _, err = io.ReadFull(stream, macKey); err != nil {
		return nil, nil, err
	}
	return encKey, macKey, nil
}

func computeMAC(macKey, iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
