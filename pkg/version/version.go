package version

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

const moduleName = "github.com/replicatedhq/bundlecheck"

// Set with -ldflags "-X github.com/replicatedhq/bundlecheck/pkg/version.version=..."
var (
	version   string
	gitSHA    string
	buildTime string
)

var (
	build     Build
	buildOnce sync.Once
)

// Build holds details about this build of the binary
type Build struct {
	Version      string    `json:"version,omitempty"`
	GitSHA       string    `json:"git,omitempty"`
	BuildTime    time.Time `json:"buildTime,omitempty"`
	TimeFallback string    `json:"buildTimeFallback,omitempty"`
	GoInfo       GoInfo    `json:"go,omitempty"`
}

type GoInfo struct {
	Version  string `json:"version,omitempty"`
	Compiler string `json:"compiler,omitempty"`
	OS       string `json:"os,omitempty"`
	Arch     string `json:"arch,omitempty"`
}

// initBuild sets up the version info from build args or, failing that, from
// the module version recorded in the binary.
func initBuild() {
	v := version
	if v == "" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			if bi.Main.Path == moduleName {
				v = bi.Main.Version
			}
			for _, dep := range bi.Deps {
				if v == "" && dep.Path == moduleName {
					v = dep.Version
				}
			}
		}
	}

	build.Version = v
	if len(gitSHA) >= 7 {
		build.GitSHA = gitSHA[:7]
	}
	if buildTime != "" {
		var err error
		build.BuildTime, err = time.Parse(time.RFC3339, buildTime)
		if err != nil {
			build.TimeFallback = buildTime
		}
	}
	build.GoInfo = getGoInfo()
}

// GetBuild gets the build
func GetBuild() Build {
	buildOnce.Do(initBuild)
	return build
}

// Version gets the version
func Version() string {
	return GetBuild().Version
}

// GitSHA gets the gitsha
func GitSHA() string {
	return GetBuild().GitSHA
}

func getGoInfo() GoInfo {
	return GoInfo{
		Version:  runtime.Version(),
		Compiler: runtime.Compiler,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
}
