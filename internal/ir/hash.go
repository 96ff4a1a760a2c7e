package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainEvent is the domain prefix for derived event ids.
// The version suffix leaves room for a future algorithm migration.
const DomainEvent = "runcollab/event/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveEventID computes the content-addressed id for an event that arrived
// without one. Two replicas that receive the same wire content derive the
// same id, so redelivery is still de-duplicated.
func DeriveEventID(userID string, eventType EventType, timestamp int64, data Payload) (string, error) {
	if data == nil {
		return "", fmt.Errorf("DeriveEventID: nil payload")
	}
	obj := map[string]any{
		"userId":    userID,
		"eventType": string(eventType),
		"timestamp": timestamp,
		"data":      data.fields(),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DeriveEventID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainEvent, canonical), nil
}

// MustDeriveEventID is like DeriveEventID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDeriveEventID(userID string, eventType EventType, timestamp int64, data Payload) string {
	id, err := DeriveEventID(userID, eventType, timestamp, data)
	if err != nil {
		panic(err)
	}
	return id
}
