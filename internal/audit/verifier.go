package audit

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Verifier checks signed decision attestations against the configured
// public key. Disabled verifiers accept everything, matching the
// teacher's opt-in attestation posture.
type Verifier struct {
	publicKey *rsa.PublicKey
	enabled   bool
}

func NewVerifier(publicKeyPEM string, enabled bool) (*Verifier, error) {
	if !enabled {
		return &Verifier{enabled: false}, nil
	}

	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return &Verifier{publicKey: rsaPub, enabled: true}, nil
}

// Verify checks an Attestation's signature and timestamp freshness against
// the corresponding decision record. Allows up to 5 minutes of clock skew.
func (v *Verifier) Verify(att *Attestation, rec store.AssignmentDecisionLog) error {
	if !v.enabled {
		return nil
	}

	now := time.Now().Unix()
	skew := now - att.Timestamp
	if skew < 0 {
		skew = -skew
	}
	const allowedSkew = 5 * 60
	if skew > allowedSkew {
		return fmt.Errorf("attestation timestamp skew too large: %ds (max %ds)", skew, int64(allowedSkew))
	}

	message := canonicalMessage(att.InstanceID, rec)
	hashed := sha256.Sum256([]byte(message))

	signature, err := base64.StdEncoding.DecodeString(att.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(v.publicKey, crypto.SHA256, hashed[:], signature); err != nil {
		return fmt.Errorf("decision attestation verification failed: %w", err)
	}
	return nil
}

func (v *Verifier) IsEnabled() bool {
	return v.enabled
}
