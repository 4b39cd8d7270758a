package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TypeEd25519    = "Ed25519VerificationKey2018"
	TypeDilithium3 = "Dilithium3"
)

// Document is an identity document carrying an ordered public-key list.
type Document struct {
	ID         string      `json:"id"`
	PublicKeys []PublicKey `json:"publicKey"`
}

type PublicKey struct {
	ID              string `json:"id"`
	Type            string `json:"type,omitempty"`
	Controller      string `json:"controller,omitempty"`
	PublicKeyBase64 string `json:"publicKeyBase64,omitempty"`
}

// FindPublicKey returns the first key whose ID ends with keyID.
//
// Matching is by suffix, so "#key-1" finds "did:example:alice#key-1".
// A nil document or an empty keyID finds nothing.
func FindPublicKey(doc *Document, keyID string) (*PublicKey, bool) {
	if doc == nil || keyID == "" {
		return nil, false
	}
	for i := range doc.PublicKeys {
		if strings.HasSuffix(doc.PublicKeys[i].ID, keyID) {
			return &doc.PublicKeys[i], true
		}
	}
	return nil, false
}

// ParseDocument decodes a JSON document.
func ParseDocument(b []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("keys: parse document: %w", err)
	}
	for i, k := range doc.PublicKeys {
		if k.ID == "" {
			return nil, fmt.Errorf("keys: publicKey[%d]: missing id", i)
		}
	}
	return &doc, nil
}

// Marshal encodes doc as indented JSON.
func (doc *Document) Marshal() ([]byte, error) {
	if doc == nil {
		return nil, errors.New("keys: nil document")
	}
	return json.MarshalIndent(doc, "", "  ")
}
