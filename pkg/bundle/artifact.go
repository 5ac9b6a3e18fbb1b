package bundle

import (
	"fmt"
	"strings"
	"time"

	"github.com/replicatedhq/bundlecheck/pkg/constants"
)

// Kind is the artifact class detected by the indexer.
type Kind string

const (
	KindManifest Kind = "manifest"
	KindLog      Kind = "log"
	KindDatabase Kind = "database"
	KindArchive  Kind = "archive"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionXz   Compression = "xz"
)

type ReadStatus string

const (
	ReadStatusOK         ReadStatus = "ok"
	ReadStatusUnreadable ReadStatus = "unreadable"
)

// Artifact is one discovered file or archive member. Artifacts are created by the
// indexer and shared by pointer; nothing downstream modifies them.
type Artifact struct {
	// Path is the absolute location on disk. For archive members it is inside the scratch directory.
	Path string `json:"path"`
	// RelPath is the slash separated path relative to the bundle root, stable across runs.
	// Archive members use "archive/path.tar.gz!member/path".
	RelPath     string      `json:"relPath"`
	Kind        Kind        `json:"kind"`
	Size        int64       `json:"size"`
	Compression Compression `json:"compression"`
	ModTime     time.Time   `json:"modTime"`
	ReadStatus  ReadStatus  `json:"readStatus"`
	// Format is the magic detected for databases and archives (sqlite, ovsdb, tar, ...).
	Format Magic `json:"format,omitempty"`
}

func (a *Artifact) String() string {
	return fmt.Sprintf("%s (%s)", a.RelPath, a.Kind)
}

// BaseName is the last element of RelPath, looking through archive member separators.
func (a *Artifact) BaseName() string {
	p := a.RelPath
	if i := strings.LastIndex(p, constants.ARCHIVE_MEMBER_SEPARATOR); i >= 0 {
		p = p[i+1:]
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return p
}

// Segments splits RelPath (ignoring any archive prefix) into path elements.
func (a *Artifact) Segments() []string {
	p := a.RelPath
	if i := strings.LastIndex(p, constants.ARCHIVE_MEMBER_SEPARATOR); i >= 0 {
		p = p[i+1:]
	}
	return strings.Split(strings.Trim(p, "/"), "/")
}

// InArchive reports whether the artifact was unpacked from an archive.
func (a *Artifact) InArchive() bool {
	return strings.Contains(a.RelPath, constants.ARCHIVE_MEMBER_SEPARATOR)
}
