package pagekv

import (
	"crypto/aes"
	"crypto/cipher"
	"sync"
)

// Cipher encrypts and decrypts whole pages in place. It is an optional hook
// on the device layer (Config.Cipher) for page-level encryption; the core
// does not require one. Encrypt must not mutate plaintext; Decrypt must
// mutate in place.
type Cipher interface {
	Encrypt(plaintext []byte) (ciphertext []byte, err error)
	Release(ciphertext []byte)
	Decrypt(ciphertext []byte) error
}

type aesCipher struct {
	pool   sync.Pool
	cipher cipher.Block
}

// NewAESCipher builds a page Cipher from a key and the environment's page
// size. Each whole aes.BlockSize block of a page is encrypted on its own;
// bytes after the last whole block are left unencrypted.
func NewAESCipher(key []byte, pageSize int) (Cipher, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &aesCipher{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, pageSize)
			},
		},
		cipher: c,
	}, nil
}

func (a *aesCipher) Encrypt(plaintext []byte) (ciphertext []byte, err error) {
	ciphertext = a.pool.Get().([]byte)
	copy(ciphertext, plaintext)
	for off := 0; off+aes.BlockSize <= len(ciphertext); off += aes.BlockSize {
		a.cipher.Encrypt(ciphertext[off:], ciphertext[off:])
	}
	return ciphertext, nil
}

func (a *aesCipher) Release(ciphertext []byte) {
	a.pool.Put(ciphertext)
}

func (a *aesCipher) Decrypt(ciphertext []byte) error {
	for off := 0; off+aes.BlockSize <= len(ciphertext); off += aes.BlockSize {
		a.cipher.Decrypt(ciphertext[off:], ciphertext[off:])
	}
	return nil
}
