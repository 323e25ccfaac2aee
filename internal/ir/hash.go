package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainTable prefixes table content digests. The version suffix allows a
// later change of algorithm.
const DomainTable = "hswatch/table/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TableDigest identifies the contents of one table file of the given kind.
// Two loads with equal digests yield the same rows.
func TableDigest(kind string, data []byte) string {
	return hashWithDomain(DomainTable+"/"+kind, data)
}
