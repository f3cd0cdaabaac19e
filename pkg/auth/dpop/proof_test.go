package dpop

import (
	"testing"
	"time"
)

func mustKeyPair(t *testing.T, alg Algorithm) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair(alg)
	if err != nil {
		t.Fatalf("GenerateKeyPair(%s): %v", alg, err)
	}
	return kp
}

func TestGenerateAndValidateProofRoundTrip(t *testing.T) {
	for _, alg := range []Algorithm{AlgES256, AlgRS256, AlgPS256} {
		kp := mustKeyPair(t, alg)
		htu, err := CanonicalHTU("https://mcp.example.com/resource?x=1#frag")
		if err != nil {
			t.Fatalf("CanonicalHTU: %v", err)
		}

		proof, err := GenerateProof(kp, "post", "https://mcp.example.com/resource?x=1#frag", "", "")
		if err != nil {
			t.Fatalf("GenerateProof(%s): %v", alg, err)
		}

		claims, err := ValidateProof(proof, ValidationRequest{Method: "POST", URL: htu}, ValidationConfig{}, NewMemoryNonceTracker())
		if err != nil {
			t.Fatalf("ValidateProof(%s): %v", alg, err)
		}
		if claims.HTM != "POST" {
			t.Errorf("unexpected htm: %s", claims.HTM)
		}
	}
}

func TestValidateProofRejectsReplayedJTI(t *testing.T) {
	kp := mustKeyPair(t, AlgES256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	tracker := NewMemoryNonceTracker()
	req := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/resource"}
	if _, err := ValidateProof(proof, req, ValidationConfig{}, tracker); err != nil {
		t.Fatalf("first ValidateProof: %v", err)
	}
	if _, err := ValidateProof(proof, req, ValidationConfig{}, tracker); err == nil {
		t.Fatal("expected replay to be rejected")
	}
}

func TestValidateProofRejectsHTMMismatch(t *testing.T) {
	kp := mustKeyPair(t, AlgES256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	req := ValidationRequest{Method: "POST", URL: "https://mcp.example.com/resource"}
	if _, err := ValidateProof(proof, req, ValidationConfig{}, NewMemoryNonceTracker()); err == nil {
		t.Fatal("expected htm mismatch to be rejected")
	}
}

func TestValidateProofRejectsHTUMismatch(t *testing.T) {
	kp := mustKeyPair(t, AlgES256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	req := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/other"}
	if _, err := ValidateProof(proof, req, ValidationConfig{}, NewMemoryNonceTracker()); err == nil {
		t.Fatal("expected htu mismatch to be rejected")
	}
}

func TestValidateProofEnforcesAccessTokenBinding(t *testing.T) {
	kp := mustKeyPair(t, AlgES256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "token-abc", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	// Correct token: accepted.
	okReq := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/resource", AccessToken: "token-abc"}
	if _, err := ValidateProof(proof, okReq, ValidationConfig{}, NewMemoryNonceTracker()); err != nil {
		t.Fatalf("expected ath match to validate: %v", err)
	}

	// Wrong token: rejected.
	proof2, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "token-abc", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	badReq := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/resource", AccessToken: "token-xyz"}
	if _, err := ValidateProof(proof2, badReq, ValidationConfig{}, NewMemoryNonceTracker()); err == nil {
		t.Fatal("expected ath mismatch to be rejected")
	}
}

func TestValidateProofRejectsExpiredProof(t *testing.T) {
	kp := mustKeyPair(t, AlgES256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}

	req := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/resource"}
	cfg := ValidationConfig{ProofLifetime: time.Nanosecond, ClockSkew: time.Nanosecond}
	time.Sleep(10 * time.Millisecond)
	if _, err := ValidateProof(proof, req, cfg, NewMemoryNonceTracker()); err == nil {
		t.Fatal("expected expired proof to be rejected")
	}
}

func TestValidateProofRejectsDisallowedAlgorithm(t *testing.T) {
	kp := mustKeyPair(t, AlgRS256)
	proof, err := GenerateProof(kp, "GET", "https://mcp.example.com/resource", "", "")
	if err != nil {
		t.Fatalf("GenerateProof: %v", err)
	}
	req := ValidationRequest{Method: "GET", URL: "https://mcp.example.com/resource"}
	cfg := ValidationConfig{AllowedAlgorithms: []Algorithm{AlgES256}}
	if _, err := ValidateProof(proof, req, cfg, NewMemoryNonceTracker()); err == nil {
		t.Fatal("expected disallowed algorithm to be rejected")
	}
}

func TestCanonicalHTUStripsQueryAndFragment(t *testing.T) {
	got, err := CanonicalHTU("HTTPS://Example.com:443/a/b?x=1#frag")
	if err != nil {
		t.Fatalf("CanonicalHTU: %v", err)
	}
	want := "https://example.com/a/b"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
