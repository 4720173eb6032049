package audit

import (
	"context"
	"log"

	"github.com/meetbridge/interpreter-scheduler/internal/store"
)

// SigningStore wraps a store.Store so every appended decision-log record
// is signed on the way through, giving the append-only log
// tamper-evidence without the engine needing to know signing exists.
// Grounded on the same embed-and-override decorator shape used by
// internal/logbuffer.DecoratingStore. Signing is best-effort: a failure
// never blocks the underlying append, since attestation never gates a
// real state transition, only observes it.
type SigningStore struct {
	store.Store
	signer *Signer // nil disables signing entirely
	recent *Recent
}

func NewSigningStore(s store.Store, signer *Signer) *SigningStore {
	return &SigningStore{Store: s, signer: signer, recent: NewRecent()}
}

func (s *SigningStore) AppendDecisionLog(ctx context.Context, record store.AssignmentDecisionLog) error {
	if s.signer != nil {
		att, err := s.signer.Sign(record)
		if err != nil {
			log.Printf("[audit] failed to sign decision record for booking %d: %v", record.BookingID, err)
		} else {
			s.recent.Add(att)
		}
	}
	return s.Store.AppendDecisionLog(ctx, record)
}

// Attestations returns the most recently signed decision attestations,
// newest last. No HTTP route serves them.
func (s *SigningStore) Attestations() []*Attestation {
	return s.recent.Snapshot()
}
