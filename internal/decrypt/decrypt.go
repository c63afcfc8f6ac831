// Package decrypt turns fetched AES-128-CBC ciphertext into plaintext media
// bytes. Each segment is decrypted independently with its own IV, matching
// HLS's per-segment encryption model.
package decrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"hls2mp4/internal/services"
)

// Decryptor decrypts segment payloads with a single run-wide key.
type Decryptor struct {
	block cipher.Block
}

// New constructs a Decryptor for the given 16-byte AES-128 key.
func New(key []byte) (*Decryptor, error) {
	if len(key) != aes.BlockSize {
		return nil, services.Wrap(services.ErrDecrypt, "decrypt", "key",
			fmt.Sprintf("key is %d bytes, want %d", len(key), aes.BlockSize), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, services.Wrap(services.ErrDecrypt, "decrypt", "cipher", "", err)
	}
	return &Decryptor{block: block}, nil
}

// Decrypt decrypts one segment payload in CBC mode and strips PKCS#7
// padding. Truncated ciphertext or invalid padding indicates a corrupted
// download or wrong key/IV and is fatal for the run.
func (d *Decryptor) Decrypt(iv, data []byte) ([]byte, error) {
	if len(iv) != aes.BlockSize {
		return nil, services.Wrap(services.ErrDecrypt, "decrypt", "iv",
			fmt.Sprintf("iv is %d bytes, want %d", len(iv), aes.BlockSize), nil)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, services.Wrap(services.ErrDecrypt, "decrypt", "ciphertext",
			fmt.Sprintf("length %d is not a positive multiple of the block size", len(data)), nil)
	}

	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(d.block, iv).CryptBlocks(plaintext, data)

	unpadded, err := stripPKCS7(plaintext)
	if err != nil {
		return nil, services.Wrap(services.ErrDecrypt, "decrypt", "padding", "", err)
	}
	return unpadded, nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize || padding > len(data) {
		return nil, fmt.Errorf("invalid padding length %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding bytes")
		}
	}
	return data[:len(data)-padding], nil
}
