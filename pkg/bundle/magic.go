package bundle

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Magic is the content format detected from a file's leading bytes.
type Magic string

const (
	MagicUnknown      Magic = ""
	MagicGzip         Magic = "gzip"
	MagicXz           Magic = "xz"
	MagicZip          Magic = "zip"
	MagicTar          Magic = "tar"
	MagicSQLite       Magic = "sqlite"
	MagicOVSDB        Magic = "ovsdb"
	MagicOVSDBCluster Magic = "ovsdb-cluster"
)

const magicSize = 512

var (
	gzipMagic         = []byte{0x1f, 0x8b}
	xzMagic           = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zipMagic          = []byte{'P', 'K', 0x03, 0x04}
	sqliteMagic       = []byte("SQLite format 3\x00")
	ovsdbMagic        = []byte("OVSDB JSON ")
	ovsdbClusterMagic = []byte("OVSDB CLUSTER ")
	tarMagic          = []byte("ustar")
)

// MagicOf classifies the first bytes of a file.
func MagicOf(head []byte) Magic {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return MagicGzip
	case bytes.HasPrefix(head, xzMagic):
		return MagicXz
	case bytes.HasPrefix(head, zipMagic):
		return MagicZip
	case bytes.HasPrefix(head, sqliteMagic):
		return MagicSQLite
	case bytes.HasPrefix(head, ovsdbMagic):
		return MagicOVSDB
	case bytes.HasPrefix(head, ovsdbClusterMagic):
		return MagicOVSDBCluster
	case len(head) >= 262 && bytes.Equal(head[257:262], tarMagic):
		return MagicTar
	}
	return MagicUnknown
}

// ReadMagic reads the leading bytes of path and classifies them.
func ReadMagic(path string) (Magic, error) {
	f, err := os.Open(path)
	if err != nil {
		return MagicUnknown, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	head, err := readHead(f)
	if err != nil {
		return MagicUnknown, errors.Wrap(err, "failed to read file header")
	}
	return MagicOf(head), nil
}

// ReadCompressedMagic decompresses the start of a gzip or xz file and classifies
// the payload, which tells a compressed tarball apart from a compressed log.
func ReadCompressedMagic(path string, compression Compression) (Magic, error) {
	f, err := os.Open(path)
	if err != nil {
		return MagicUnknown, errors.Wrap(err, "failed to open file")
	}
	defer f.Close()

	var r io.Reader
	switch compression {
	case CompressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return MagicUnknown, errors.Wrap(err, "failed to create gzip reader")
		}
		defer gz.Close()
		r = gz
	case CompressionXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return MagicUnknown, errors.Wrap(err, "failed to create xz reader")
		}
		r = xr
	default:
		r = f
	}

	head, err := readHead(r)
	if err != nil {
		return MagicUnknown, errors.Wrap(err, "failed to read decompressed header")
	}
	return MagicOf(head), nil
}

func readHead(r io.Reader) ([]byte, error) {
	head := make([]byte, magicSize)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return head[:n], nil
}
