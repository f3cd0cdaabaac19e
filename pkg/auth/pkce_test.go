package auth

import "testing"

func TestCodeChallengeS256IsDeterministic(t *testing.T) {
	verifier := "abc123"
	if CodeChallengeS256(verifier) != CodeChallengeS256(verifier) {
		t.Fatal("expected deterministic challenge for the same verifier")
	}
}

func TestGenerateCodeVerifierLengthWithinRFCBounds(t *testing.T) {
	v, err := GenerateCodeVerifier()
	if err != nil {
		t.Fatalf("GenerateCodeVerifier: %v", err)
	}
	if len(v) < 43 || len(v) > 128 {
		t.Fatalf("verifier length %d outside RFC 7636 bounds [43,128]", len(v))
	}
}

func TestGenerateStateIsUnique(t *testing.T) {
	a, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState: %v", err)
	}
	b, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct state values")
	}
}
