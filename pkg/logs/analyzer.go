// Package logs condenses log files into templates: lines that differ only in
// volatile tokens (timestamps, IDs, addresses, numbers) are counted together.
package logs

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/ulikunitz/xz"
)

// maxTemplateLineLength bounds how much of a line is templated; longer lines
// are still read and counted.
const maxTemplateLineLength = 64 * 1024

const maxExampleLength = 1024

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

var (
	klogLevel    = regexp.MustCompile(`(?:^|\s)([IWEF])\d{4} \d{2}:\d{2}:\d{2}`)
	fieldLevel   = regexp.MustCompile(`(?i)\b(?:level|lvl|severity)["']?\s*[=:]\s*["']?(error|err|fatal|panic|critical|warn|warning|info|debug)\b`)
	errorWords   = regexp.MustCompile(`(?i)\b(?:error|fatal|panic|failed|failure|exception)\b`)
	warningWords = regexp.MustCompile(`(?i)\b(?:warn|warning|deprecated)\b`)
)

// Template is one normalized line shape and what was seen of it.
type Template struct {
	Template  string    `json:"template"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	// FirstLine is the 1-based line number of the first occurrence.
	FirstLine int      `json:"firstLine"`
	Examples  []string `json:"examples"`
	Level     Level    `json:"level"`
}

type Options struct {
	MaxExamples  int
	MaxTemplates int
}

type Analyzer struct {
	opts Options
}

func NewAnalyzer(opts Options) *Analyzer {
	if opts.MaxExamples <= 0 {
		opts.MaxExamples = constants.DEFAULT_MAX_EXAMPLES
	}
	if opts.MaxTemplates <= 0 {
		opts.MaxTemplates = constants.DEFAULT_MAX_TEMPLATES
	}
	return &Analyzer{opts: opts}
}

// AnalyzeFile templates one log artifact, decompressing as needed. On a read
// or decompression failure it returns the templates built from the lines read
// so far, the number of those lines and the error.
func (a *Analyzer) AnalyzeFile(ctx context.Context, artifact *bundle.Artifact) ([]Template, int, error) {
	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to open log")
	}
	defer f.Close()

	var r io.Reader = f
	switch artifact.Compression {
	case bundle.CompressionGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to create gzip reader")
		}
		defer gz.Close()
		r = gz
	case bundle.CompressionXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to create xz reader")
		}
		r = xr
	}

	return a.AnalyzeReader(ctx, r, artifact.ModTime)
}

// AnalyzeReader templates every line of r. modTime dates lines that carry no
// timestamp of their own.
func (a *Analyzer) AnalyzeReader(ctx context.Context, r io.Reader, modTime time.Time) ([]Template, int, error) {
	br := bufio.NewReader(r)
	counts := map[string]*Template{}

	lines := 0
	var readErr error
	for {
		if lines%1024 == 0 {
			if err := ctx.Err(); err != nil {
				readErr = err
				break
			}
		}
		line, err := readLine(br)
		if err != nil && err != io.EOF {
			// the line the failure landed in is incomplete and dropped
			readErr = errors.Wrapf(err, "failed to read line %d", lines+1)
			break
		}
		if len(line) > 0 || err == nil {
			lines++
			a.observe(counts, string(line), lines, modTime)
		}
		if err == io.EOF {
			break
		}
	}

	return a.rank(counts), lines, readErr
}

func (a *Analyzer) observe(counts map[string]*Template, line string, lineNo int, modTime time.Time) {
	if isBlank(line) {
		return
	}
	template := Normalize(line)

	seen, ok := parseTimestamp(line, modTime)
	if !ok {
		seen = modTime.UTC()
	}

	t, ok := counts[template]
	if !ok {
		t = &Template{
			Template:  template,
			FirstSeen: seen,
			LastSeen:  seen,
			FirstLine: lineNo,
			Level:     DetectLevel(line),
		}
		counts[template] = t
	}
	t.Count++
	if seen.Before(t.FirstSeen) {
		t.FirstSeen = seen
	}
	if seen.After(t.LastSeen) {
		t.LastSeen = seen
	}
	if len(t.Examples) < a.opts.MaxExamples {
		if len(line) > maxExampleLength {
			line = line[:maxExampleLength]
		}
		t.Examples = append(t.Examples, line)
	}
}

// rank orders templates by count, then recency, then text, and keeps the top MaxTemplates.
func (a *Analyzer) rank(counts map[string]*Template) []Template {
	templates := make([]Template, 0, len(counts))
	for _, t := range counts {
		templates = append(templates, *t)
	}
	sort.Slice(templates, func(i, j int) bool {
		ti, tj := templates[i], templates[j]
		if ti.Count != tj.Count {
			return ti.Count > tj.Count
		}
		if !ti.LastSeen.Equal(tj.LastSeen) {
			return ti.LastSeen.After(tj.LastSeen)
		}
		return ti.Template < tj.Template
	})
	if len(templates) > a.opts.MaxTemplates {
		templates = templates[:a.opts.MaxTemplates]
	}
	return templates
}

// DetectLevel classifies a line from its klog header, a level field, or keywords.
func DetectLevel(line string) Level {
	if m := klogLevel.FindStringSubmatch(line); m != nil {
		switch m[1] {
		case "E", "F":
			return LevelError
		case "W":
			return LevelWarning
		}
		return LevelInfo
	}
	if m := fieldLevel.FindStringSubmatch(line); m != nil {
		switch level := m[1]; {
		case equalFold(level, "error", "err", "fatal", "panic", "critical"):
			return LevelError
		case equalFold(level, "warn", "warning"):
			return LevelWarning
		}
		return LevelInfo
	}
	if errorWords.MatchString(line) {
		return LevelError
	}
	if warningWords.MatchString(line) {
		return LevelWarning
	}
	return LevelInfo
}

// readLine reads one line of any length, keeping at most maxTemplateLineLength
// bytes of it. The trailing newline is stripped.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if room := maxTemplateLineLength - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if n := len(line); n > 0 && line[n-1] == '\n' {
			line = line[:n-1]
			if n := len(line); n > 0 && line[n-1] == '\r' {
				line = line[:n-1]
			}
		}
		return line, err
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func equalFold(s string, candidates ...string) bool {
	for _, c := range candidates {
		if strings.EqualFold(s, c) {
			return true
		}
	}
	return false
}
