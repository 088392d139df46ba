package version

import "fmt"

// Version/Commit are injectable at build time via -ldflags; they default to
// development placeholders.
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Full returns a CLI-printable version string.
func Full() string {
	return fmt.Sprintf("rpcache %s (%s)", Version, Commit)
}
