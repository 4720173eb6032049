package audit

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

func keyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return priv, string(pubPEM)
}

func TestSignAndVerifyRoundTrips(t *testing.T) {
	priv, pubPEM := keyPair(t)
	verifier, err := NewVerifier(pubPEM, true)
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSigner(priv, "instance-1")

	rec := store.AssignmentDecisionLog{
		BookingID: 42, BatchID: "batch-1", PolicyHash: "abc123", Chosen: "E001",
		Timestamp: time.Now(),
	}
	att, err := signer.Sign(rec)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifier.Verify(att, rec); err != nil {
		t.Fatalf("expected valid attestation to verify, got %v", err)
	}
}

func TestVerifyRejectsTamperedRecord(t *testing.T) {
	priv, pubPEM := keyPair(t)
	verifier, err := NewVerifier(pubPEM, true)
	if err != nil {
		t.Fatal(err)
	}
	signer := NewSigner(priv, "instance-1")

	rec := store.AssignmentDecisionLog{BookingID: 42, BatchID: "batch-1", PolicyHash: "abc123", Timestamp: time.Now()}
	att, err := signer.Sign(rec)
	if err != nil {
		t.Fatal(err)
	}

	tampered := rec
	tampered.PolicyHash = "tampered"
	if err := verifier.Verify(att, tampered); err == nil {
		t.Fatal("expected verification to fail for a tampered record")
	}
}

func TestDisabledVerifierAcceptsEverything(t *testing.T) {
	verifier, err := NewVerifier("", false)
	if err != nil {
		t.Fatal(err)
	}
	if err := verifier.Verify(&Attestation{}, store.AssignmentDecisionLog{}); err != nil {
		t.Fatalf("expected disabled verifier to accept, got %v", err)
	}
}
