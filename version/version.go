package version

var (
	// GitCommit is the current HEAD set using ldflags.
	GitCommit string

	// Version is the built softwares version.
	Version = RTSemVer
)

func init() {
	if GitCommit != "" {
		Version += "-" + GitCommit
	}
}

const (
	// RTSemVer is the current version of the regression runner.
	RTSemVer = "0.1.0"

	// SocketIOProtocol and EngineIOProtocol are the push protocol revisions
	// the subscription client speaks.
	SocketIOProtocol = 2
	EngineIOProtocol = 3
)
