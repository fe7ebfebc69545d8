// Package exitcode names the sysexits.h-style process exit codes used by
// cmd/torusd.
package exitcode

const (
	OK          = 0
	Usage       = 64 // command line usage error
	NoInput     = 66 // config.toml unreadable or malformed, or tile store (torus.dat) open/mmap failure
	Unavailable = 69 // Listen failure: socket, bind, epoll, eventfd, or pidfile
	OSErr       = 71 // CLI parser construction failure
	CantCreate  = 73 // runtime or config directory, or config file, could not be created
	IOErr       = 74 // event loop failure, or config file write failure
)
