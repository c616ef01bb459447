package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build information, set at link time with -ldflags "-X ...".
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Container versions and video fourccs this build can decode.
var (
	GeometryVersions = []uint32{10, 11, 12}
	VideoCodecs      = []string{"RGBA", "LZ4B", "ZSTD", "MJPG"}
)

// Info describes the running build.
type Info struct {
	Version          string   `json:"version"`
	GitCommit        string   `json:"git_commit"`
	BuildTime        string   `json:"build_time"`
	GoVersion        string   `json:"go_version"`
	Platform         string   `json:"platform"`
	GeometryVersions []uint32 `json:"geometry_versions"`
	VideoCodecs      []string `json:"video_codecs"`
}

// GetInfo returns the version information.
func GetInfo() Info {
	return Info{
		Version:          Version,
		GitCommit:        GitCommit,
		BuildTime:        BuildTime,
		GoVersion:        runtime.Version(),
		Platform:         runtime.GOOS + "/" + runtime.GOARCH,
		GeometryVersions: append([]uint32(nil), GeometryVersions...),
		VideoCodecs:      append([]string(nil), VideoCodecs...),
	}
}

func (i Info) String() string {
	versions := make([]string, len(i.GeometryVersions))
	for n, v := range i.GeometryVersions {
		versions[n] = fmt.Sprint(v)
	}
	return fmt.Sprintf("volplayer %s (commit %s, built %s, %s %s) geometry v%s video %s",
		i.Version, i.GitCommit, i.BuildTime, i.GoVersion, i.Platform,
		strings.Join(versions, "/v"), strings.Join(i.VideoCodecs, ","))
}

// Short returns "volplayer <version>".
func (i Info) Short() string {
	return "volplayer " + i.Version
}
