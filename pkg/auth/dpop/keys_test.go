package dpop

import "testing"

func TestGenerateKeyPairThumbprintIsStable(t *testing.T) {
	kp, err := GenerateKeyPair(AlgES256)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if kp.Thumbprint == "" {
		t.Fatal("expected non-empty thumbprint")
	}

	recomputed, err := computeThumbprint(kp.PublicKey, kp.Algorithm)
	if err != nil {
		t.Fatalf("computeThumbprint: %v", err)
	}
	if recomputed != kp.Thumbprint {
		t.Errorf("thumbprint mismatch: %s vs %s", recomputed, kp.Thumbprint)
	}
}

func TestMemoryKeyManagerStoreGetDelete(t *testing.T) {
	m := NewMemoryKeyManager()
	kp, err := GenerateKeyPair(AlgES256)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	if err := m.Store(kp); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := m.Get(kp.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != kp.ID {
		t.Errorf("got id %s, want %s", got.ID, kp.ID)
	}

	if err := m.Delete(kp.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Get(kp.ID); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestPublicJWKExcludesPrivateMaterial(t *testing.T) {
	kp, err := GenerateKeyPair(AlgES256)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	jwk, err := kp.PublicJWK()
	if err != nil {
		t.Fatalf("PublicJWK: %v", err)
	}
	if _, ok := jwk["d"]; ok {
		t.Fatal("expected no private key material ('d') in public jwk")
	}
}
