package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// RuleHash generates a deterministic hash over a tenant's rule tree, used as
// the cache subkey for evaluation results.
func RuleHash(tenantID uuid.UUID, root RuleNode) string {
	data := struct {
		TenantID string   `json:"tenant_id"`
		Rules    RuleNode `json:"rules"`
	}{
		TenantID: tenantID.String(),
		Rules:    root,
	}

	jsonBytes, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonBytes)
	return hex.EncodeToString(hash[:])
}
