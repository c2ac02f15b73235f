package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/mitchellh/hashstructure/v2"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/models"
)

// Fingerprint identifies a cache entry: SHA-256 of the canonical hashstructure digest of a
// GenerateRequest or ToolCallRequest. Struct tags on those types (`hash:"ignore"`) exclude options
// that do not affect output, such as per-call timeout/retry counts.
type Fingerprint string

func fingerprintOf(v interface{}) (Fingerprint, error) {
	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return "", gerror.NewErrValidationFailed(fmt.Sprintf("error computing cache fingerprint: %v", err))
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%x", h)))
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// FingerprintGenerate derives the fingerprint for a generate() call.
func FingerprintGenerate(req models.GenerateRequest) (Fingerprint, error) {
	return fingerprintOf(req)
}

// FingerprintToolCall derives the fingerprint for a tool_call() call.
func FingerprintToolCall(req models.ToolCallRequest) (Fingerprint, error) {
	return fingerprintOf(req)
}
