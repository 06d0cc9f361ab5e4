package version

var (
	// GitCommit is set with --ldflags "-X github.com/stateshift/rollup-httpd/version.GitCommit=$(git rev-parse --short HEAD)"
	GitCommit string

	// Version is the current semantic version of the server.
	Version = "0.9.0"
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}
