package extract

import (
	"context"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/replicatedhq/bundlecheck/pkg/bundle"
	"github.com/replicatedhq/bundlecheck/pkg/facts"
	"github.com/replicatedhq/bundlecheck/pkg/manifest"
	"github.com/replicatedhq/bundlecheck/pkg/policy"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

const (
	defaultStorageClassAnnotation     = "storageclass.kubernetes.io/is-default-class"
	betaDefaultStorageClassAnnotation = "storageclass.beta.kubernetes.io/is-default-class"
)

var storagePaths = newPathMatcher(
	"cluster-scoped-resources/core/persistentvolumes/*.{yaml,yml,json}",
	"cluster-scoped-resources/core/persistentvolumes.{yaml,yml,json}",
	"cluster-scoped-resources/storage.k8s.io/storageclasses/*.{yaml,yml,json}",
	"cluster-scoped-resources/storage.k8s.io/storageclasses.{yaml,yml,json}",
	"namespaces/*/core/persistentvolumeclaims.{yaml,yml,json}",
)

type StorageExtractor struct {
	policy *policy.Policy
}

func (e *StorageExtractor) Name() string               { return "storage" }
func (e *StorageExtractor) Subsystem() facts.Subsystem { return facts.SubsystemStorage }

func (e *StorageExtractor) Matches(a *bundle.Artifact) bool {
	return a.Kind == bundle.KindManifest && storagePaths.match(a)
}

func (e *StorageExtractor) Extract(ctx context.Context, a *bundle.Artifact) ([]facts.Fact, error) {
	objects, err := decodeArtifact(ctx, a)
	var errs *multierror.Error
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	kind := storageKindFor(a.RelPath)
	result := []facts.Fact{}
	for _, obj := range objects {
		if !isKind(obj, kind) {
			continue
		}
		var (
			f   facts.Fact
			err error
		)
		switch kind {
		case "PersistentVolume":
			f, err = e.volumeFact(obj, a.RelPath)
		case "PersistentVolumeClaim":
			f, err = e.claimFact(obj, a.RelPath)
		case "StorageClass":
			f, err = storageClassFact(obj, a.RelPath)
		default:
			continue
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		result = append(result, f)
	}

	return result, errs.ErrorOrNil()
}

// storageKindFor names the kind a storage artifact holds. List items often
// carry no kind of their own, so the directory or file name decides.
func storageKindFor(relPath string) string {
	for _, segment := range strings.Split(relPath, "/") {
		stem, _, _ := strings.Cut(segment, ".")
		switch stem {
		case "persistentvolumes":
			return "PersistentVolume"
		case "persistentvolumeclaims":
			return "PersistentVolumeClaim"
		case "storageclasses":
			return "StorageClass"
		}
	}
	return ""
}

func (e *StorageExtractor) volumeFact(obj *unstructured.Unstructured, path string) (facts.Fact, error) {
	var pv corev1.PersistentVolume
	if err := manifest.Convert(obj, &pv); err != nil {
		return facts.Fact{}, err
	}
	f := facts.Fact{
		Subsystem: facts.SubsystemStorage,
		Kind:      facts.KindPersistentVolume,
		Entity:    facts.Entity{Name: pv.Name},
		Fields: map[string]string{
			"phase": string(pv.Status.Phase),
		},
		Healthy:    facts.HealthFlag(e.policy.PhaseHealthy(facts.KindPersistentVolume, string(pv.Status.Phase))),
		Provenance: facts.Provenance{Path: path},
	}
	setIf(f.Fields, "storageClass", pv.Spec.StorageClassName)
	setIf(f.Fields, "reason", pv.Status.Reason)
	setIf(f.Fields, "message", truncate(pv.Status.Message))
	if ref := pv.Spec.ClaimRef; ref != nil {
		f.Fields["claim"] = ref.Namespace + "/" + ref.Name
	}
	return f, nil
}

func (e *StorageExtractor) claimFact(obj *unstructured.Unstructured, path string) (facts.Fact, error) {
	var pvc corev1.PersistentVolumeClaim
	if err := manifest.Convert(obj, &pvc); err != nil {
		return facts.Fact{}, err
	}
	f := facts.Fact{
		Subsystem: facts.SubsystemStorage,
		Kind:      facts.KindPVC,
		Entity:    facts.Entity{Namespace: pvc.Namespace, Name: pvc.Name},
		Fields: map[string]string{
			"phase": string(pvc.Status.Phase),
		},
		Healthy:    facts.HealthFlag(e.policy.PhaseHealthy(facts.KindPVC, string(pvc.Status.Phase))),
		Provenance: facts.Provenance{Path: path},
	}
	setIf(f.Fields, "volume", pvc.Spec.VolumeName)
	if pvc.Spec.StorageClassName != nil {
		setIf(f.Fields, "storageClass", *pvc.Spec.StorageClassName)
	}
	return f, nil
}

func storageClassFact(obj *unstructured.Unstructured, path string) (facts.Fact, error) {
	var sc storagev1.StorageClass
	if err := manifest.Convert(obj, &sc); err != nil {
		return facts.Fact{}, err
	}
	isDefault := sc.Annotations[defaultStorageClassAnnotation] == "true" ||
		sc.Annotations[betaDefaultStorageClassAnnotation] == "true"
	return facts.Fact{
		Subsystem: facts.SubsystemStorage,
		Kind:      facts.KindStorageClass,
		Entity:    facts.Entity{Name: sc.Name},
		Fields: map[string]string{
			"provisioner": sc.Provisioner,
			"default":     strconv.FormatBool(isDefault),
		},
		Provenance: facts.Provenance{Path: path},
	}, nil
}
