// Package manifest decodes resource manifests as they appear in a bundle: one
// object per file, List kinds, multi-document YAML, or JSON. Decoding is
// tolerant; whatever was parsed before a malformed document is still returned.
package manifest

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
)

const decoderBufferSize = 4096

// DecodeFile reads all objects in the manifest file at path.
func DecodeFile(ctx context.Context, path string) ([]*unstructured.Unstructured, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open manifest")
	}
	defer f.Close()

	return Decode(ctx, bufio.NewReader(f))
}

// Decode reads every document of a YAML or JSON stream, flattening lists into
// their items. It returns the objects decoded so far along with any error,
// and stops between documents once ctx is done.
func Decode(ctx context.Context, r io.Reader) ([]*unstructured.Unstructured, error) {
	dec := utilyaml.NewYAMLOrJSONDecoder(r, decoderBufferSize)

	objects := []*unstructured.Unstructured{}
	var errs *multierror.Error
	for doc := 0; ; doc++ {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		obj := map[string]interface{}{}
		err := dec.Decode(&obj)
		if err == io.EOF {
			break
		}
		if err != nil {
			// The decoder cannot resynchronise after a syntax error.
			errs = multierror.Append(errs, errors.Wrapf(err, "failed to decode document %d", doc))
			break
		}
		if len(obj) == 0 {
			continue
		}

		items, isList := obj["items"].([]interface{})
		if !isList {
			objects = append(objects, &unstructured.Unstructured{Object: obj})
			continue
		}
		for i, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				errs = multierror.Append(errs, errors.Errorf("document %d item %d is not an object", doc, i))
				continue
			}
			objects = append(objects, &unstructured.Unstructured{Object: m})
		}
	}

	return objects, errs.ErrorOrNil()
}

// Convert turns a decoded object into a typed API object such as corev1.Pod.
func Convert(u *unstructured.Unstructured, out interface{}) error {
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, out); err != nil {
		return errors.Wrapf(err, "failed to convert %s %s", u.GetKind(), u.GetName())
	}
	return nil
}

// ReadJSON decodes a plain JSON document, used for non-Kubernetes artifacts
// such as etcd health dumps.
func ReadJSON(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read file")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "failed to parse json")
	}
	return nil
}
