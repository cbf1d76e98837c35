package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprinter derives a device identifier from connection metadata.
type Fingerprinter interface {
	Fingerprint(sourceIP, userAgent string) string
}

// IPUserAgent hashes the source IP and User-Agent. It is a duplicate heuristic
// only: clients behind one NAT with the same browser collide, and a changed IP
// yields a new fingerprint.
type IPUserAgent struct{}

// Fingerprint returns the hex SHA-256 of "ip|ua".
func (IPUserAgent) Fingerprint(sourceIP, userAgent string) string {
	return Of(sourceIP, userAgent)
}

// Of is the function form of IPUserAgent.Fingerprint.
func Of(sourceIP, userAgent string) string {
	sum := sha256.Sum256([]byte(sourceIP + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}
