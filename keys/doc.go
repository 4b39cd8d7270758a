// Package keys looks up public keys in identity documents and verifies
// signatures made with them.
//
// Documents are JSON with an ordered key list:
//
//	{
//	  "id": "did:example:alice",
//	  "publicKey": [
//	    {"id": "did:example:alice#key-1", "type": "Ed25519VerificationKey2018",
//	     "controller": "did:example:alice", "publicKeyBase64": "..."}
//	  ]
//	}
package keys
