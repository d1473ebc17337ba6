package dreame

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5" // nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
)

const tokenSize = 16

func md5Bytes(data ...[]byte) []byte {
	h := md5.New() // nolint:gosec
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// parseToken decodes the 32 hex character device token.
func parseToken(token string) ([]byte, error) {
	raw, err := hex.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if len(raw) != tokenSize {
		return nil, fmt.Errorf("invalid token: want %d bytes, got %d", tokenSize, len(raw))
	}
	return raw, nil
}

// tokenKeys derives the AES key and IV from the device token.
func tokenKeys(token []byte) (key, iv []byte) {
	key = md5Bytes(token)
	iv = md5Bytes(key, token)
	return key, iv
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - (len(data) % blockSize)
	padding := bytes.Repeat([]byte{byte(pad)}, pad)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padding size")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("invalid padding")
	}
	for i := 0; i < pad; i++ {
		if data[len(data)-1-i] != byte(pad) {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-pad], nil
}

func aesCbcEncrypt(plaintext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(append([]byte(nil), plaintext...), block.BlockSize())
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out, nil
}

func aesCbcDecrypt(ciphertext, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, errors.New("invalid cbc ciphertext length")
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return pkcs7Unpad(out, block.BlockSize())
}
