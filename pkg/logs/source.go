package logs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
)

// Source identifies what produced a log file.
type Source struct {
	Namespace string
	Pod       string
	Container string
	// Stream is the file name, e.g. "current.log" or "previous.log.gz" for
	// container logs. Rotated and compressed siblings stay distinct.
	Stream string
	// Unit is the host service for host_service_logs, with Role the node group it was gathered from.
	Unit string
	Role string
}

// SourceFor derives the log source from the artifact path. Paths outside the
// known layouts are identified by the path itself.
func SourceFor(a *bundle.Artifact) Source {
	segments := a.Segments()
	name := a.BaseName()

	// namespaces/<ns>/pods/<pod>/<container>/<container>/logs/<stream>.log
	if len(segments) >= 5 && segments[0] == constants.NAMESPACES_DIR && segments[2] == "pods" {
		return Source{
			Namespace: segments[1],
			Pod:       segments[3],
			Container: segments[4],
			Stream:    name,
		}
	}

	// host_service_logs/<role>/<unit>_service.log
	if len(segments) >= 2 && segments[0] == constants.HOST_SERVICE_LOGS_DIR {
		s := Source{Unit: strings.TrimSuffix(fileStem(name), "_service"), Stream: name}
		if len(segments) >= 3 {
			s.Role = segments[1]
		}
		return s
	}

	return Source{Unit: a.RelPath, Stream: name}
}

func (s Source) entity() facts.Entity {
	if s.Pod != "" {
		return facts.Entity{Namespace: s.Namespace, Name: s.Pod}
	}
	return facts.Entity{Name: s.Unit}
}

func fileStem(name string) string {
	for _, suffix := range []string{".gz", ".xz", ".log"} {
		name = strings.TrimSuffix(name, suffix)
	}
	return name
}

// Matches reports artifacts the log analyzer consumes.
func Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindLog && !a.InArchive()
}

// Facts analyzes one log artifact and returns a LogTemplate fact per retained
// template. A source that fails part way yields the templates of the lines
// read plus a LogUnavailable fact; it never returns an error of its own.
func (a *Analyzer) Facts(ctx context.Context, artifact *bundle.Artifact) []facts.Fact {
	if artifact.ReadStatus == bundle.ReadStatusUnreadable {
		return []facts.Fact{facts.NewLogUnavailable(artifact.RelPath, 0, errors.New("log file is not readable"))}
	}

	templates, lines, err := a.AnalyzeFile(ctx, artifact)
	if err != nil && ctx.Err() != nil {
		// abandoned by the run deadline, not a property of the source
		return nil
	}

	source := SourceFor(artifact)
	result := make([]facts.Fact, 0, len(templates)+1)
	for rank, t := range templates {
		result = append(result, templateFact(source, artifact.RelPath, rank, t))
	}
	if err != nil {
		result = append(result, facts.NewLogUnavailable(artifact.RelPath, lines, err))
	}
	return result
}

func templateFact(source Source, path string, rank int, t Template) facts.Fact {
	entity := source.entity()
	qualifier := source.Stream
	if source.Container != "" {
		qualifier = source.Container + "/" + source.Stream
	} else if source.Role != "" {
		qualifier = source.Role + "/" + source.Stream
	}
	entity.Qualifier = fmt.Sprintf("%s#%02d", qualifier, rank)

	f := facts.Fact{
		Subsystem: facts.SubsystemLogs,
		Kind:      facts.KindLogTemplate,
		Entity:    entity,
		Fields: map[string]string{
			"template":  t.Template,
			"count":     strconv.Itoa(t.Count),
			"level":     string(t.Level),
			"firstSeen": formatTime(t.FirstSeen),
			"lastSeen":  formatTime(t.LastSeen),
			"examples":  strings.Join(t.Examples, "\n"),
		},
		Provenance: facts.Provenance{Path: path, Line: t.FirstLine},
	}
	if source.Container != "" {
		f.Fields["container"] = source.Container
	}
	if source.Unit != "" {
		f.Fields["unit"] = source.Unit
	}
	if t.Level == LevelError {
		f.Healthy = facts.HealthFlag(false)
	}
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
