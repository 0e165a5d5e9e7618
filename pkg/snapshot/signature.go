package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Signature fingerprints an entity type's tracked-field set. The same type
// and field set always hash identically, independent of field order. Stored
// on every ledger entry at write time and recomputed at rollback time; a
// mismatch means the entity's shape drifted and the entry is not a safe
// rollback target.
func Signature(entityType string, trackedFields []string) string {
	fields := append([]string(nil), trackedFields...)
	sort.Strings(fields)
	h := sha256.New()
	h.Write([]byte(entityType))
	for _, f := range fields {
		h.Write([]byte{'\n'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SignatureMatches reports whether a stored signature still matches the
// current tracked-field set for the type.
func SignatureMatches(stored, entityType string, trackedFields []string) bool {
	return stored != "" && strings.EqualFold(stored, Signature(entityType, trackedFields))
}
