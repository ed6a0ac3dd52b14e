package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the hashing input to change later.
const (
	DomainCase    = "xtsunit/case/v1"
	DomainOutcome = "xtsunit/outcome/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator keeps domain and data from running together.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CaseID computes the stable identity of a case within a run.
// suitePath is the chain of suite names from the root suite down.
func CaseID(runID string, suitePath []string, caseName string, seq int64) (string, error) {
	path := make(Array, len(suitePath))
	for i, name := range suitePath {
		path[i] = String(name)
	}
	obj := Object{
		"run_id": String(runID),
		"suite":  path,
		"case":   String(caseName),
		"seq":    Number(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CaseID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCase, canonical), nil
}

// OutcomeID computes the identity of the index-th assertion outcome of a case.
func OutcomeID(caseID string, index int) string {
	return hashWithDomain(DomainOutcome, []byte(fmt.Sprintf("%s/%d", caseID, index)))
}
