// Package manifest decodes and validates RSecret manifests outside the cluster.
package manifest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"

	dserrors "github.com/systmms/rsecrets/internal/errors"
	"github.com/systmms/rsecrets/pkg/apis/rsecrets/v1beta1"
)

//go:embed schema.json
var schema string

// DefaultNamespace is used for manifests that do not name one
const DefaultNamespace = "default"

// Parse validates a YAML or JSON manifest against the RSecret schema and
// decodes it.
func Parse(data []byte) (*v1beta1.RSecret, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "Manifest is not valid YAML",
			Details:    err.Error(),
			Suggestion: "Check indentation and quoting",
			Err:        err,
		}
	}

	if err := validate(jsonData); err != nil {
		return nil, err
	}

	rs := &v1beta1.RSecret{}
	if err := json.Unmarshal(jsonData, rs); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if rs.Namespace == "" {
		rs.Namespace = DefaultNamespace
	}
	return rs, nil
}

// Load reads and parses the manifest at path. "-" reads stdin.
func Load(path string, stdin io.Reader) (*v1beta1.RSecret, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, dserrors.UserError{
			Message:    "Failed to read manifest",
			Details:    err.Error(),
			Suggestion: "Check the path given with -f",
			Err:        err,
		}
	}
	return Parse(data)
}

func validate(jsonData []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errorMessages []string
		for _, desc := range result.Errors() {
			errorMessages = append(errorMessages, desc.String())
		}
		return dserrors.UserError{
			Message:    "Manifest does not match the RSecret schema",
			Details:    strings.Join(errorMessages, "\n  - "),
			Suggestion: fmt.Sprintf("Backends must be one of %v", v1beta1.BackendTypes),
		}
	}
	return nil
}
