// Package audit signs decision-log records so a downstream auditor can
// detect tampering with the append-only assignment history. Grounded on
// control_plane/attestation/signer.go+verifier.go, retargeted from
// signing an agent's binary-hash/version claim to signing a booking's
// assignment decision.
package audit

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// Signer produces signed attestations over assignment decision records.
type Signer struct {
	privateKey *rsa.PrivateKey
	instanceID string
}

func NewSigner(privateKey *rsa.PrivateKey, instanceID string) *Signer {
	return &Signer{privateKey: privateKey, instanceID: instanceID}
}

// Attestation is the signed envelope over one decision-log record.
type Attestation struct {
	BookingID  int64  `json:"bookingId"`
	BatchID    string `json:"batchId"`
	PolicyHash string `json:"policyHash"`
	InstanceID string `json:"instanceId"`
	Timestamp  int64  `json:"timestamp"`
	Signature  string `json:"signature"`
}

func canonicalMessage(instanceID string, rec store.AssignmentDecisionLog) string {
	return fmt.Sprintf("%d:%s:%s:%s:%d", rec.BookingID, rec.BatchID, rec.PolicyHash, instanceID, rec.Timestamp.Unix())
}

// Sign produces a signed Attestation for a decision-log record.
func (s *Signer) Sign(rec store.AssignmentDecisionLog) (*Attestation, error) {
	message := canonicalMessage(s.instanceID, rec)
	hashed := sha256.Sum256([]byte(message))

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("sign decision record: %w", err)
	}

	return &Attestation{
		BookingID:  rec.BookingID,
		BatchID:    rec.BatchID,
		PolicyHash: rec.PolicyHash,
		InstanceID: s.instanceID,
		Timestamp:  rec.Timestamp.Unix(),
		Signature:  base64.StdEncoding.EncodeToString(signature),
	}, nil
}
