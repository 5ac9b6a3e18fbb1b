package testutils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func CreateTestFileWithData(t *testing.T, path, data string) {
	t.Helper()

	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	require.NoError(t, err)
	err = os.WriteFile(path, []byte(data), 0644)
	require.NoError(t, err)
}

// CreateGzipTestFile writes data gzip compressed, the way host service logs ship.
func CreateGzipTestFile(t *testing.T, path, data string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
}

// WriteBundle writes files, keyed by slash separated path, below root.
func WriteBundle(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, data := range files {
		CreateTestFileWithData(t, filepath.Join(root, filepath.FromSlash(rel)), data)
	}
}

func LogJSON(t *testing.T, v interface{}) {
	t.Helper()

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Log(v)
	} else {
		t.Log(string(b))
	}
}
