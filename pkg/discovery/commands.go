package discovery

import "fmt"

// Platform selects the netstat invocation used on a target.
type Platform string

const (
	PlatformLinux Platform = "linux"
	// PlatformLinuxProcs adds -p so rows carry the owning PID/Program.
	// Only processes of the login user are shown without root.
	PlatformLinuxProcs Platform = "linux-procs"
	PlatformBSD        Platform = "bsd"
	PlatformDarwin     Platform = "darwin"
)

// DefaultPlatform is used when neither the target nor the client config
// names one.
const DefaultPlatform = PlatformLinux

var commands = map[Platform]string{
	PlatformLinux:      "netstat -tuln",
	PlatformLinuxProcs: "netstat -tulpn",
	PlatformBSD:        "netstat -an",
	PlatformDarwin:     "netstat -an",
}

// Command returns the fixed command line for p.
func Command(p Platform) (string, error) {
	cmd, ok := commands[p]
	if !ok {
		return "", fmt.Errorf("%w: unknown platform %q", ErrInvalidInput, p)
	}
	return cmd, nil
}

// Platforms lists the supported platform tags.
func Platforms() []Platform {
	return []Platform{PlatformLinux, PlatformLinuxProcs, PlatformBSD, PlatformDarwin}
}
