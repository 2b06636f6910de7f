// Package version carries build metadata set with -ldflags.
package version

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// Info is the build metadata served by the API.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String formats the metadata for --version output.
func (i Info) String() string {
	return i.Version + " (" + i.GitSHA + ", built " + i.BuildTime + ")"
}
