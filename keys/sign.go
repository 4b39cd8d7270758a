package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// ErrBadSignature is returned by Verify when a well-formed signature does not
// verify.
var ErrBadSignature = errors.New("keys: signature does not verify")

func digestFor(hashAlg string, message []byte) ([]byte, error) {
	switch hashAlg {
	case "sha256":
		s := sha256.Sum256(message)
		return s[:], nil
	case "sha512":
		s := sha512.Sum512(message)
		return s[:], nil
	case "sha3-256":
		s := sha3.Sum256(message)
		return s[:], nil
	default:
		return nil, fmt.Errorf("keys: unsupported hash algorithm: %q", hashAlg)
	}
}

// SignEd25519SHA256 returns a base64 signature over sha256(message).
func SignEd25519SHA256(message []byte, privateKey ed25519.PrivateKey) string {
	digest := sha256.Sum256(message)
	sig := ed25519.Sign(privateKey, digest[:])
	return base64.StdEncoding.EncodeToString(sig)
}

// SignDilithium3 returns a base64 dilithium3 signature over hash(message).
// hashAlg must be one of: sha256, sha512, sha3-256.
func SignDilithium3(message []byte, hashAlg string, privateKey *mode3.PrivateKey) (string, error) {
	if privateKey == nil {
		return "", errors.New("keys: missing private key")
	}
	digest, err := digestFor(hashAlg, message)
	if err != nil {
		return "", err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(privateKey, digest, sig)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// Ed25519Entry builds a document key entry for pub.
func Ed25519Entry(id, controller string, pub ed25519.PublicKey) (PublicKey, error) {
	if l := len(pub); l != ed25519.PublicKeySize {
		return PublicKey{}, fmt.Errorf("keys: ed25519 public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
	}
	return PublicKey{
		ID:              id,
		Type:            TypeEd25519,
		Controller:      controller,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// Dilithium3Entry builds a document key entry for pub.
func Dilithium3Entry(id, controller string, pub *mode3.PublicKey) (PublicKey, error) {
	if pub == nil {
		return PublicKey{}, errors.New("keys: missing public key")
	}
	return PublicKey{
		ID:              id,
		Type:            TypeDilithium3,
		Controller:      controller,
		PublicKeyBase64: base64.StdEncoding.EncodeToString(pub.Bytes()),
	}, nil
}

// Verify checks a base64 signature over message made with k.
//
// Ed25519 keys sign sha256(message) and ignore hashAlg. Dilithium3 keys sign
// hash(message) with hashAlg one of sha256, sha512, sha3-256.
func (k *PublicKey) Verify(message []byte, sigB64, hashAlg string) error {
	if k == nil {
		return errors.New("keys: nil public key")
	}
	raw, err := base64.StdEncoding.DecodeString(k.PublicKeyBase64)
	if err != nil {
		return fmt.Errorf("keys: %s: decode public key: %w", k.ID, err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("keys: decode signature: %w", err)
	}

	switch k.Type {
	case TypeEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return fmt.Errorf("keys: %s: ed25519 public key must be %d bytes, got %d", k.ID, ed25519.PublicKeySize, len(raw))
		}
		digest := sha256.Sum256(message)
		if !ed25519.Verify(ed25519.PublicKey(raw), digest[:], sig) {
			return ErrBadSignature
		}
		return nil
	case TypeDilithium3:
		var pub mode3.PublicKey
		if err := pub.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("keys: %s: dilithium3 public key: %w", k.ID, err)
		}
		digest, err := digestFor(hashAlg, message)
		if err != nil {
			return err
		}
		if !mode3.Verify(&pub, digest, sig) {
			return ErrBadSignature
		}
		return nil
	default:
		return fmt.Errorf("keys: %s: unsupported key type %q", k.ID, k.Type)
	}
}
