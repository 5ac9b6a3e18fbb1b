package bundle

import (
	"fmt"
	"strings"
)

const (
	LayoutReasonAbsent       = "absent"
	LayoutReasonAmbiguous    = "ambiguous"
	LayoutReasonNotDirectory = "not a directory"
)

// BundleLayoutError means no bundle root could be located. It is the only
// condition that stops a run before analysis starts.
type BundleLayoutError struct {
	Path       string
	Reason     string
	Markers    []string
	Candidates []string
}

func (e *BundleLayoutError) Error() string {
	switch e.Reason {
	case LayoutReasonAmbiguous:
		return fmt.Sprintf("bundle layout error: %s contains several bundle roots: %s", e.Path, strings.Join(e.Candidates, ", "))
	case LayoutReasonAbsent:
		return fmt.Sprintf("bundle layout error: no bundle root with any of [%s] found at or directly below %s", strings.Join(e.Markers, ", "), e.Path)
	}
	return fmt.Sprintf("bundle layout error: %s: %s", e.Path, e.Reason)
}
