package keys

import "testing"

func testDocument() *Document {
	return &Document{
		ID: "did:example:alice",
		PublicKeys: []PublicKey{
			{ID: "did:example:alice#key-1", Type: TypeEd25519},
			{ID: "did:example:alice#key-10", Type: TypeDilithium3},
			{ID: "did:example:bob#key-1", Type: TypeEd25519},
		},
	}
}

func TestFindPublicKey_SuffixMatch(t *testing.T) {
	doc := testDocument()

	k, ok := FindPublicKey(doc, "#key-10")
	if !ok || k.ID != "did:example:alice#key-10" {
		t.Fatalf("got %+v, %v", k, ok)
	}

	// Suffix, not exact: the first entry ending in "key-1" wins.
	k, ok = FindPublicKey(doc, "key-1")
	if !ok || k.ID != "did:example:alice#key-1" {
		t.Fatalf("got %+v, %v", k, ok)
	}

	k, ok = FindPublicKey(doc, "did:example:alice#key-1")
	if !ok || k != &doc.PublicKeys[0] {
		t.Fatalf("full id should match and point into the document")
	}
}

func TestFindPublicKey_NotFound(t *testing.T) {
	doc := testDocument()
	for _, id := range []string{"#key-2", "alice", "did:example:alice#key-1#x"} {
		if k, ok := FindPublicKey(doc, id); ok {
			t.Fatalf("FindPublicKey(%q) = %+v, want not found", id, k)
		}
	}
	if _, ok := FindPublicKey(doc, ""); ok {
		t.Fatalf("empty key id should find nothing")
	}
	if _, ok := FindPublicKey(nil, "#key-1"); ok {
		t.Fatalf("nil document should find nothing")
	}
	if _, ok := FindPublicKey(&Document{}, "#key-1"); ok {
		t.Fatalf("empty key list should find nothing")
	}
}

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(`{
		"id": "did:example:alice",
		"publicKey": [
			{"id": "did:example:alice#key-1", "type": "Ed25519VerificationKey2018", "controller": "did:example:alice", "publicKeyBase64": "AAAA"}
		]
	}`))
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if doc.ID != "did:example:alice" || len(doc.PublicKeys) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.PublicKeys[0].Controller != "did:example:alice" || doc.PublicKeys[0].PublicKeyBase64 != "AAAA" {
		t.Fatalf("unexpected key: %+v", doc.PublicKeys[0])
	}

	b, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := ParseDocument(b)
	if err != nil || again.PublicKeys[0].ID != doc.PublicKeys[0].ID {
		t.Fatalf("re-parse: %+v, %v", again, err)
	}

	if _, err := ParseDocument([]byte(`{"publicKey": [{"type": "x"}]}`)); err == nil {
		t.Fatalf("ParseDocument should reject a key without id")
	}
	if _, err := ParseDocument([]byte(`not json`)); err == nil {
		t.Fatalf("ParseDocument should reject invalid JSON")
	}
}
