package models

import (
	"fmt"
	"path/filepath"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
)

// Artifact records one file persisted into a run's outputs/ subtree by the Artifact Store.
type Artifact struct {
	Path        string `json:"path"`
	SHA256      string `json:"sha256"`
	SizeBytes   int64  `json:"size_bytes"`
	MediaType   string `json:"media_type"`
	ProducedBy  string `json:"produced_by"`
}

// Validate checks the structural invariants of an Artifact record: the path must be relative
// and must not escape the run's outputs/ subtree.
func (a Artifact) Validate() error {
	var result *multierror.Error
	if a.Path == "" {
		result = multierror.Append(result, fmt.Errorf("artifact path must not be empty"))
	}
	if filepath.IsAbs(a.Path) {
		result = multierror.Append(result, fmt.Errorf("artifact path %q must be relative", a.Path))
	}
	for _, part := range strings.Split(filepath.ToSlash(a.Path), "/") {
		if part == ".." {
			result = multierror.Append(result, fmt.Errorf("artifact path %q must not escape the run root", a.Path))
			break
		}
	}
	if len(a.SHA256) != 64 {
		result = multierror.Append(result, fmt.Errorf("artifact %q has malformed sha256 %q", a.Path, a.SHA256))
	}
	if a.ProducedBy == "" {
		result = multierror.Append(result, fmt.Errorf("artifact %q missing produced_by", a.Path))
	}
	return result.ErrorOrNil()
}
