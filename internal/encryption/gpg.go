// Package encryption wraps archives in an OpenPGP symmetric envelope that
// `gpg --decrypt` can open with the same passphrase.
package encryption

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Ext is appended to sealed files.
const Ext = ".gpg"

var (
	ErrNoPassphrase = errors.New("no passphrase configured")
	ErrEncrypt      = errors.New("encryption failed")
	ErrDecrypt      = errors.New("decryption failed")
)

var sealConfig = &packet.Config{
	DefaultCipher: packet.CipherAES256,
	// archives are already gzip-compressed
	DefaultCompressionAlgo: packet.CompressionNone,
}

// Seal encrypts path into path+".gpg" and removes the plaintext on success.
// On failure no partial ciphertext is left behind.
func Seal(path, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}
	sealed := path + Ext

	if err := sealFile(path, sealed, passphrase); err != nil {
		_ = os.Remove(sealed)
		return "", fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("%w: remove plaintext: %v", ErrEncrypt, err)
	}
	return sealed, nil
}

func sealFile(src, dst, passphrase string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if err := SealStream(out, in, passphrase); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// SealStream encrypts everything read from r into w.
func SealStream(w io.Writer, r io.Reader, passphrase string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}
	plaintext, err := openpgp.SymmetricallyEncrypt(w, []byte(passphrase), &openpgp.FileHints{IsBinary: true}, sealConfig)
	if err != nil {
		return err
	}
	if _, err := io.Copy(plaintext, r); err != nil {
		_ = plaintext.Close()
		return err
	}
	return plaintext.Close()
}

// Open decrypts a sealed file next to it, stripping the ".gpg" suffix, and
// returns the plaintext path. The sealed input is kept.
func Open(path, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrNoPassphrase
	}
	plain, ok := strings.CutSuffix(path, Ext)
	if !ok {
		plain = path + ".decrypted"
	}

	in, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	defer in.Close()

	out, err := os.OpenFile(plain, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if err := OpenStream(out, in, passphrase); err != nil {
		_ = out.Close()
		_ = os.Remove(plain)
		return "", err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(plain)
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plain, nil
}

// OpenStream decrypts r into w. Integrity is verified when the stream ends,
// so w may have received data before an error is returned.
func OpenStream(w io.Writer, r io.Reader, passphrase string) error {
	if passphrase == "" {
		return ErrNoPassphrase
	}

	// ReadMessage keeps prompting while the passphrase is wrong.
	attempted := false
	prompt := func(_ []openpgp.Key, symmetric bool) ([]byte, error) {
		if attempted || !symmetric {
			return nil, errors.New("incorrect passphrase")
		}
		attempted = true
		return []byte(passphrase), nil
	}

	md, err := openpgp.ReadMessage(r, nil, prompt, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if !md.IsSymmetricallyEncrypted {
		return fmt.Errorf("%w: message is not symmetrically encrypted", ErrDecrypt)
	}
	if _, err := io.Copy(w, md.UnverifiedBody); err != nil {
		return fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return nil
}
