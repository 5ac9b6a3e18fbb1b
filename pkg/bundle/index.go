package bundle

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"k8s.io/klog/v2"
)

// Index is the read-only manifest of a bundle.
type Index struct {
	// Root is the absolute bundle root that contains the layout markers.
	Root          string      `json:"root"`
	LayoutVersion string      `json:"layoutVersion"`
	Artifacts     []*Artifact `json:"artifacts"`
	// Missing lists optional top-level directories that are absent.
	Missing []string `json:"missing,omitempty"`
	// Skipped counts files that matched no artifact kind.
	Skipped int `json:"skipped"`

	scratchDir string
	byRel      map[string]*Artifact
}

// Load locates the bundle root below path and indexes it. If path is an archive
// file, it is unpacked into scratchDir first. scratchDir is also where archives
// found inside the bundle are unpacked on demand; its lifetime belongs to the caller.
func Load(ctx context.Context, path string, scratchDir string) (*Index, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve bundle path")
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat bundle path")
	}

	if !info.IsDir() {
		if !isArchiveName(info.Name()) {
			return nil, &BundleLayoutError{Path: abs, Reason: LayoutReasonNotDirectory}
		}
		dest := filepath.Join(scratchDir, "bundle")
		klog.V(1).Infof("unpacking bundle archive %s into %s", abs, dest)
		if err := unarchive(abs, dest); err != nil {
			return nil, errors.Wrap(err, "failed to unpack bundle archive")
		}
		abs = unwrapSingleDir(dest)
	}

	root, err := FindRootDir(abs)
	if err != nil {
		return nil, err
	}

	return IndexRoot(ctx, root, scratchDir)
}

// FindRootDir returns path when it contains a layout marker, otherwise the only
// direct child directory that does.
func FindRootDir(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to stat bundle path")
	}
	if !info.IsDir() {
		return "", &BundleLayoutError{Path: path, Reason: LayoutReasonNotDirectory}
	}

	if hasMarkers(path) {
		return path, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to list bundle path")
	}

	candidates := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		child := filepath.Join(path, entry.Name())
		if hasMarkers(child) {
			candidates = append(candidates, child)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 1:
		klog.V(1).Infof("using nested bundle root %s", candidates[0])
		return candidates[0], nil
	case 0:
		return "", &BundleLayoutError{Path: path, Reason: LayoutReasonAbsent, Markers: constants.BundleMarkers}
	default:
		return "", &BundleLayoutError{Path: path, Reason: LayoutReasonAmbiguous, Markers: constants.BundleMarkers, Candidates: candidates}
	}
}

func hasMarkers(dir string) bool {
	for _, marker := range constants.BundleMarkers {
		info, err := os.Stat(filepath.Join(dir, marker))
		if err == nil && info.IsDir() {
			return true
		}
	}
	return false
}

// unwrapSingleDir descends through directories that contain nothing but one
// subdirectory, which is how most bundle archives wrap their content.
func unwrapSingleDir(dir string) string {
	for i := 0; i < 2 && !hasMarkers(dir); i++ {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) != 1 || !entries[0].IsDir() {
			return dir
		}
		dir = filepath.Join(dir, entries[0].Name())
	}
	return dir
}

// IndexRoot walks an already located bundle root.
func IndexRoot(ctx context.Context, root string, scratchDir string) (*Index, error) {
	idx := &Index{
		Root:          root,
		LayoutVersion: constants.LAYOUT_VERSION,
		scratchDir:    scratchDir,
		byRel:         map[string]*Artifact{},
	}

	for _, dir := range constants.OptionalDirs {
		if info, err := os.Stat(filepath.Join(root, dir)); err != nil || !info.IsDir() {
			klog.V(1).Infof("optional directory %s is not present in the bundle", dir)
			idx.Missing = append(idx.Missing, dir)
		}
	}

	artifacts, skipped, err := walk(ctx, root, "")
	if err != nil {
		return nil, err
	}
	idx.Skipped = skipped
	idx.add(artifacts)

	klog.V(1).Infof("indexed %d artifacts under %s (%d skipped)", len(idx.Artifacts), root, skipped)
	return idx, nil
}

func (i *Index) add(artifacts []*Artifact) {
	for _, a := range artifacts {
		i.byRel[a.RelPath] = a
	}
	i.Artifacts = append(i.Artifacts, artifacts...)
	sort.Slice(i.Artifacts, func(a, b int) bool {
		return i.Artifacts[a].RelPath < i.Artifacts[b].RelPath
	})
}

// ByKind returns the artifacts of one kind in RelPath order.
func (i *Index) ByKind(kind Kind) []*Artifact {
	out := []*Artifact{}
	for _, a := range i.Artifacts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Lookup finds an artifact by its relative path.
func (i *Index) Lookup(relPath string) *Artifact {
	return i.byRel[filepath.ToSlash(relPath)]
}

// ScratchDir is where archives are unpacked.
func (i *Index) ScratchDir() string {
	return i.scratchDir
}

// walk classifies every regular file below dir. prefix is prepended to the
// relative paths, which is how archive members get their "archive!" prefix.
func walk(ctx context.Context, dir string, prefix string) ([]*Artifact, int, error) {
	artifacts := []*Artifact{}
	skipped := 0

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable directory is skipped, not fatal.
			klog.V(2).Infof("skipping %s: %v", path, err)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return errors.Wrap(err, "failed to get relative path")
		}
		rel = prefix + filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			skipped++
			return nil
		}

		artifact := &Artifact{
			Path:       path,
			RelPath:    rel,
			Size:       info.Size(),
			ModTime:    info.ModTime().UTC(),
			ReadStatus: ReadStatusOK,
		}

		c, err := classify(path, d.Name())
		if err != nil {
			// Keep files we cannot read when their name says what they are, so
			// the consumer records the blind spot.
			c, _ = classifyByName(d.Name())
			artifact.ReadStatus = ReadStatusUnreadable
		}
		if !c.ok {
			skipped++
			return nil
		}
		artifact.Kind = c.kind
		artifact.Compression = c.compression
		artifact.Format = c.format

		artifacts = append(artifacts, artifact)
		return nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to walk bundle")
	}

	return artifacts, skipped, nil
}

func classifyByName(baseName string) (classification, bool) {
	name := strings.ToLower(baseName)
	for _, rule := range classifyRules {
		if rule.matcher.Match(name) {
			return classification{kind: rule.kind, compression: rule.compression, ok: true}, true
		}
	}
	return classification{}, false
}

func isArchiveName(name string) bool {
	c, ok := classifyByName(name)
	return ok && c.kind == KindArchive
}
