package extract

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/constants"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
)

const (
	etcdMemberListFile     = "member_list.json"
	etcdEndpointHealthFile = "endpoint_health.json"
)

// etcdMemberList is the output of `etcdctl member list -w json`.
type etcdMemberList struct {
	Members []struct {
		ID         uint64   `json:"ID"`
		Name       string   `json:"name"`
		PeerURLs   []string `json:"peerURLs"`
		ClientURLs []string `json:"clientURLs"`
		IsLearner  bool     `json:"isLearner"`
	} `json:"members"`
}

// etcdEndpointHealth is one entry of `etcdctl endpoint health -w json`.
type etcdEndpointHealth struct {
	Endpoint string `json:"endpoint"`
	Health   bool   `json:"health"`
	Took     string `json:"took"`
	Error    string `json:"error"`
}

// EtcdExtractor reads the etcdctl dumps collected under etcd_info.
type EtcdExtractor struct{}

func (e *EtcdExtractor) Name() string               { return "etcd" }
func (e *EtcdExtractor) Subsystem() facts.Subsystem { return facts.SubsystemEtcd }

func (e *EtcdExtractor) Matches(a *bundle.Artifact) bool {
	if a.InArchive() {
		return false
	}
	segments := a.Segments()
	if len(segments) != 2 || segments[0] != constants.ETCD_INFO_DIR {
		return false
	}
	return segments[1] == etcdMemberListFile || segments[1] == etcdEndpointHealthFile
}

func (e *EtcdExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.BaseName() == etcdMemberListFile {
		return memberFacts(a)
	}
	return endpointHealthFacts(a)
}

func memberFacts(a *bundle.Artifact) ([]facts.Fact, error) {
	var list etcdMemberList
	if err := manifest.ReadJSON(a.Path, &list); err != nil {
		return nil, errors.Wrap(err, "failed to read etcd member list")
	}

	result := []facts.Fact{}
	for _, m := range list.Members {
		name := m.Name
		if name == "" {
			// members that have not started yet have no name
			name = strconv.FormatUint(m.ID, 16)
		}
		f := facts.Fact{
			Subsystem: facts.SubsystemEtcd,
			Kind:      facts.KindEtcdMember,
			Entity:    facts.Entity{Name: name},
			Fields: map[string]string{
				"id":      strconv.FormatUint(m.ID, 16),
				"learner": strconv.FormatBool(m.IsLearner),
				"started": strconv.FormatBool(m.Name != ""),
			},
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		setIf(f.Fields, "peerURLs", joinSorted(m.PeerURLs))
		setIf(f.Fields, "clientURLs", joinSorted(m.ClientURLs))
		result = append(result, f)
	}
	return result, nil
}

func endpointHealthFacts(a *bundle.Artifact) ([]facts.Fact, error) {
	var health []etcdEndpointHealth
	if err := manifest.ReadJSON(a.Path, &health); err != nil {
		return nil, errors.Wrap(err, "failed to read etcd endpoint health")
	}

	result := []facts.Fact{}
	for _, h := range health {
		f := facts.Fact{
			Subsystem: facts.SubsystemEtcd,
			Kind:      facts.KindEtcdEndpointHealth,
			Entity:    facts.Entity{Name: h.Endpoint},
			Fields: map[string]string{
				"health": strconv.FormatBool(h.Health),
			},
			Healthy:    facts.HealthFlag(h.Health),
			Provenance: facts.Provenance{Path: a.RelPath},
		}
		setIf(f.Fields, "took", h.Took)
		setIf(f.Fields, "error", truncate(h.Error))
		result = append(result, f)
	}
	return result, nil
}
