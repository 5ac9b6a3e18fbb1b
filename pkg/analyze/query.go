package analyzer

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/dbquery"
)

// QueryDatabase runs q against one database of the bundle at bundlePath.
// dbRelPath is relative to the bundle root; members of archives are addressed
// as "network_logs/store.tar.gz!member/path". Only Timeout and ScratchDir of
// opts are used.
func QueryDatabase(ctx context.Context, bundlePath, dbRelPath string, q dbquery.Query, opts Options) ([]dbquery.Row, error) {
	if err := q.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid query")
	}
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	scratch, cleanup, err := opts.makeScratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	idx, err := bundle.Load(ctx, bundlePath, scratch)
	if err != nil {
		return nil, err
	}

	db, err := lookupDatabase(ctx, idx, dbRelPath)
	if err != nil {
		return nil, err
	}

	return dbquery.NewAdapter(ctx, idx).Query(ctx, db, q)
}

func lookupDatabase(ctx context.Context, idx *bundle.Index, relPath string) (*bundle.Artifact, error) {
	archivePath, _, inArchive := strings.Cut(relPath, constants.ARCHIVE_MEMBER_SEPARATOR)
	if !inArchive {
		a := idx.Lookup(relPath)
		if a == nil {
			return nil, errors.Errorf("%s not found in bundle", relPath)
		}
		return a, nil
	}

	archive := idx.Lookup(archivePath)
	if archive == nil {
		return nil, errors.Errorf("archive %s not found in bundle", archivePath)
	}
	members, err := idx.ExtractArchive(ctx, archive)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.RelPath == relPath {
			return m, nil
		}
	}
	return nil, errors.Errorf("%s not found in archive %s", strings.TrimPrefix(relPath, archivePath+constants.ARCHIVE_MEMBER_SEPARATOR), archivePath)
}
