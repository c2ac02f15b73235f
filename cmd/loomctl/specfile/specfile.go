// Package specfile loads a JobSpec from a YAML or JSON file on disk, the way the teacher's
// server/services/queue/parser package picks a format by file extension rather than forcing
// one syntax on callers.
package specfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/loomforge/loomforge/common/gerror"
	"github.com/loomforge/loomforge/core/models"
)

// Load reads path and unmarshals it into a JobSpec, dispatching on extension: .yaml/.yml for
// YAML, anything else (including .json) for JSON.
func Load(path string) (models.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.JobSpec{}, gerror.NewErrIO(fmt.Sprintf("error reading spec file %q", path), err)
	}

	var spec models.JobSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &spec); err != nil {
			return models.JobSpec{}, gerror.NewErrValidationFailed(fmt.Sprintf("error parsing YAML spec file %q: %v", path, err))
		}
	default:
		if err := json.Unmarshal(data, &spec); err != nil {
			return models.JobSpec{}, gerror.NewErrValidationFailed(fmt.Sprintf("error parsing JSON spec file %q: %v", path, err))
		}
	}

	if err := spec.Validate(); err != nil {
		return models.JobSpec{}, gerror.NewErrValidationFailed(err.Error())
	}
	return spec, nil
}
