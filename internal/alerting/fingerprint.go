package alerting

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// DedupKey returns the fingerprint for an alert: hex SHA-256 over the
// ordered tuple (type, business unit, entity type, entity id). Each part is
// length-prefixed so ("ab","c") and ("a","bc") never collide.
func DedupKey(alertType AlertType, businessUnitID, entityType, entityID string) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, part := range []string{string(alertType), businessUnitID, entityType, entityID} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// clusterSignature is the weak grouping hint stored on a cluster.
func clusterSignature(tenantID string, alertType AlertType, businessUnitID string) string {
	h := sha256.New()
	for _, part := range []string{tenantID, string(alertType), businessUnitID} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
