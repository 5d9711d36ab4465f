// Package plans reads workflow plan files: YAML streams whose documents each
// describe one workflow in the same shape the REST API accepts.
package plans

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"stepgate/backend/pkg/models"
)

// Plan is one validated workflow read from a plan file.
type Plan struct {
	Source     string
	Request    models.CreateWorkflowRequest
	Definition models.WorkflowDefinition
}

// LoadFile reads every plan in the file at path.
func LoadFile(path string) ([]Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()
	return Decode(path, f)
}

// Decode reads a YAML stream of workflow documents. Unknown keys are
// rejected and every document is validated; source names the stream in
// errors.
func Decode(source string, r io.Reader) ([]Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Plan
	for doc := 1; ; doc++ {
		var req models.CreateWorkflowRequest
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", source, doc, err)
		}
		def, err := req.Definition()
		if err != nil {
			return nil, fmt.Errorf("%s: document %d: %w", source, doc, err)
		}
		out = append(out, Plan{
			Source:     fmt.Sprintf("%s#%d", source, doc),
			Request:    req,
			Definition: def,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no workflows found", source)
	}
	return out, nil
}
