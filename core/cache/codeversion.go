package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os/exec"
	"strings"
)

// registeredStepIdentifiers is the fallback input hashed into a code version tag when no .git
// directory is present to ask for a revision. It must be updated whenever the canonical step
// graph's mechanical behavior changes, mirroring what a git commit would otherwise capture.
var registeredStepIdentifiers = []string{"architect@v1", "builder@v1", "docs@v1", "qa@v1"}

// ResolveCodeVersion returns a short git revision of the orchestrator source tree if dir is
// inside a git working copy, or a stable hash of the built-in step registry otherwise. The
// result is part of every cache fingerprint so a code change naturally invalidates stale
// cached responses.
func ResolveCodeVersion(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--short", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err == nil {
		if rev := strings.TrimSpace(string(out)); rev != "" {
			return rev
		}
	}
	h := sha256.Sum256([]byte(strings.Join(registeredStepIdentifiers, ",")))
	return hex.EncodeToString(h[:])[:12]
}
