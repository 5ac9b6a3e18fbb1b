package bundle

import (
	"archive/tar"
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"
	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"k8s.io/klog/v2"
)

// ExtractArchive unpacks an archive artifact into the scratch directory and
// returns artifacts for its members. Members are not added to the index; the
// caller owns them. Nested archives are listed but not unpacked.
func (i *Index) ExtractArchive(ctx context.Context, a *Artifact) ([]*Artifact, error) {
	if a.Kind != KindArchive {
		return nil, errors.Errorf("%s is not an archive", a.RelPath)
	}
	if i.scratchDir == "" {
		return nil, errors.New("no scratch directory configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dest := filepath.Join(i.scratchDir, "archives", scratchName(a.RelPath))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create scratch directory")
	}

	klog.V(1).Infof("unpacking %s into %s", a.RelPath, dest)
	if err := unarchiveArtifact(a, dest); err != nil {
		return nil, errors.Wrapf(err, "failed to unpack %s", a.RelPath)
	}

	members, _, err := walk(ctx, dest, a.RelPath+constants.ARCHIVE_MEMBER_SEPARATOR)
	if err != nil {
		return nil, err
	}
	return members, nil
}

func scratchName(relPath string) string {
	r := strings.NewReplacer("/", "_", constants.ARCHIVE_MEMBER_SEPARATOR, "_", "..", "_")
	return r.Replace(relPath)
}

func unarchiveArtifact(a *Artifact, dest string) error {
	u, err := unarchiverFor(a.BaseName(), a.Compression, a.Format)
	if err != nil {
		return err
	}
	if err := u.Unarchive(a.Path, dest); err != nil {
		return err
	}
	restoreModTimes(u, a.Path, dest)
	return nil
}

func unarchive(source, dest string) error {
	c, ok := classifyByName(filepath.Base(source))
	if !ok {
		return errors.Errorf("unsupported archive %s", source)
	}
	format := MagicTar
	if strings.HasSuffix(strings.ToLower(source), ".zip") {
		format = MagicZip
	}
	u, err := unarchiverFor(filepath.Base(source), c.compression, format)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return errors.Wrap(err, "failed to create destination")
	}
	if err := u.Unarchive(source, dest); err != nil {
		return err
	}
	restoreModTimes(u, source, dest)
	return nil
}

// unpacker is implemented by every archiver format the indexer handles.
type unpacker interface {
	archiver.Unarchiver
	archiver.Walker
}

// restoreModTimes stamps unpacked regular files with the modification time
// recorded in the archive. archiver leaves them at the extraction time, and
// log lines without a timestamp fall back to the file time.
func restoreModTimes(w archiver.Walker, source, dest string) {
	root := filepath.Clean(dest) + string(os.PathSeparator)
	err := w.Walk(source, func(f archiver.File) error {
		if !f.Mode().IsRegular() {
			return nil
		}
		name := memberName(f)
		if name == "" {
			return nil
		}
		target := filepath.Join(dest, filepath.FromSlash(name))
		if !strings.HasPrefix(target, root) {
			return nil
		}
		mtime := f.ModTime()
		if err := os.Chtimes(target, mtime, mtime); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to set modification time of %s", name)
		}
		return nil
	})
	if err != nil {
		klog.Warningf("failed to restore modification times from %s: %v", source, err)
	}
}

func memberName(f archiver.File) string {
	switch h := f.Header.(type) {
	case *tar.Header:
		return h.Name
	case zip.FileHeader:
		return h.Name
	}
	return ""
}

// unarchiverFor picks the archiver format from what the indexer detected
// rather than from the extension alone, so "foo.gz" holding a tarball works.
func unarchiverFor(name string, compression Compression, format Magic) (unpacker, error) {
	tar := &archiver.Tar{
		OverwriteExisting:      true,
		MkdirAll:               true,
		ImplicitTopLevelFolder: false,
		ContinueOnError:        true,
	}

	if format == MagicZip {
		return &archiver.Zip{
			OverwriteExisting: true,
			MkdirAll:          true,
			ContinueOnError:   true,
		}, nil
	}

	switch compression {
	case CompressionGzip:
		return &archiver.TarGz{Tar: tar}, nil
	case CompressionXz:
		return &archiver.TarXz{Tar: tar}, nil
	case CompressionNone:
		return tar, nil
	}
	return nil, errors.Errorf("unsupported archive %s", name)
}
