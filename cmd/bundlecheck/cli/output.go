package cli

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// writeOutput encodes indented JSON in the requested format. YAML is derived
// from the JSON so both use the same field names.
func writeOutput(w io.Writer, format string, doc []byte) error {
	switch format {
	case outputJSON, "":
	case outputYAML:
		var err error
		doc, err = yaml.JSONToYAML(doc)
		if err != nil {
			return errors.Wrap(err, "failed to convert output to yaml")
		}
	default:
		return errors.Errorf("unsupported output format %q, use json or yaml", format)
	}

	if len(doc) > 0 && doc[len(doc)-1] != '\n' {
		doc = append(doc, '\n')
	}
	_, err := w.Write(doc)
	return errors.Wrap(err, "failed to write output")
}

func marshalIndent(v interface{}) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal output")
	}
	return b, nil
}
