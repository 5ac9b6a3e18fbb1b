package bundle

import (
	"strings"

	"github.com/gobwas/glob"
	"k8s.io/klog/v2"
)

// classifyRule maps a base-name pattern to an artifact kind. Rules with sniff set
// are only a hint; the file's leading bytes decide.
type classifyRule struct {
	pattern     string
	kind        Kind
	compression Compression
	sniff       bool

	matcher glob.Glob
}

// Order matters: the first matching rule wins.
var classifyRules = compileRules([]classifyRule{
	{pattern: "*.{tar.gz,tgz}", kind: KindArchive, compression: CompressionGzip},
	{pattern: "*.{tar.xz,txz}", kind: KindArchive, compression: CompressionXz},
	{pattern: "*.{tar,zip}", kind: KindArchive, compression: CompressionNone},
	{pattern: "*.log.gz", kind: KindLog, compression: CompressionGzip},
	{pattern: "*.log.xz", kind: KindLog, compression: CompressionXz},
	{pattern: "*.{log,log.[0-9]}", kind: KindLog, compression: CompressionNone},
	{pattern: "*.{yaml,yml,json}", kind: KindManifest, compression: CompressionNone},
	{pattern: "*.{db,sqlite,sqlite3}", kind: KindDatabase, compression: CompressionNone, sniff: true},
	{pattern: "*_{nbdb,sbdb}", kind: KindDatabase, compression: CompressionNone, sniff: true},
	{pattern: "*.gz", kind: KindLog, compression: CompressionGzip, sniff: true},
	{pattern: "*.xz", kind: KindLog, compression: CompressionXz, sniff: true},
})

func compileRules(rules []classifyRule) []classifyRule {
	for i := range rules {
		rules[i].matcher = glob.MustCompile(rules[i].pattern)
	}
	return rules
}

type classification struct {
	kind        Kind
	compression Compression
	format      Magic
	ok          bool
}

// classify decides the kind of the file at path. Unmatched names are sniffed and
// kept only when their content is recognisably a database or compressed log.
func classify(path, baseName string) (classification, error) {
	name := strings.ToLower(baseName)
	for _, rule := range classifyRules {
		if !rule.matcher.Match(name) {
			continue
		}
		c := classification{kind: rule.kind, compression: rule.compression, ok: true}
		if !rule.sniff && rule.kind != KindArchive {
			return c, nil
		}
		return refine(path, c)
	}

	magic, err := ReadMagic(path)
	if err != nil {
		return classification{}, err
	}
	switch magic {
	case MagicSQLite, MagicOVSDB, MagicOVSDBCluster:
		return classification{kind: KindDatabase, compression: CompressionNone, format: magic, ok: true}, nil
	case MagicGzip:
		return refine(path, classification{kind: KindLog, compression: CompressionGzip, ok: true})
	case MagicXz:
		return refine(path, classification{kind: KindLog, compression: CompressionXz, ok: true})
	}
	return classification{}, nil
}

// refine confirms a name-based guess with the content of the file.
func refine(path string, c classification) (classification, error) {
	magic, err := ReadMagic(path)
	if err != nil {
		return c, err
	}

	switch c.kind {
	case KindDatabase:
		// A database whose magic does not match is still a database, just one
		// the adapter will report as unavailable.
		c.format = magic
		return c, nil
	case KindArchive:
		c.format = MagicTar
		if magic == MagicZip {
			c.format = MagicZip
		}
		return c, nil
	}

	switch magic {
	case MagicSQLite, MagicOVSDB, MagicOVSDBCluster:
		return classification{kind: KindDatabase, compression: CompressionNone, format: magic, ok: true}, nil
	case MagicGzip, MagicXz:
		compression := CompressionGzip
		if magic == MagicXz {
			compression = CompressionXz
		}
		inner, err := ReadCompressedMagic(path, compression)
		if err != nil {
			klog.V(2).Infof("failed to sniff compressed payload of %s: %v", path, err)
			return classification{kind: KindLog, compression: compression, format: magic, ok: true}, nil
		}
		if inner == MagicTar {
			return classification{kind: KindArchive, compression: compression, format: MagicTar, ok: true}, nil
		}
		return classification{kind: KindLog, compression: compression, format: magic, ok: true}, nil
	}

	// The name promised compression but the content is plain text.
	c.compression = CompressionNone
	return c, nil
}
