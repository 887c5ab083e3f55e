package external

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strconv"
)

// maxPortProbes bounds how many random ports are tried before giving up.
const maxPortProbes = 64

// pickPort returns a port in [min, max] that is free on host right now. The
// port is released before returning, so the child may still lose a race for it;
// the exit watcher treats that like any other failed launch.
func pickPort(host string, min, max int) (int, error) {
	if min <= 0 || max < min {
		return 0, fmt.Errorf("invalid port range %d-%d", min, max)
	}

	for i := 0; i < maxPortProbes; i++ {
		port := min + rand.IntN(max-min+1)
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		l.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port in %d-%d after %d probes", min, max, maxPortProbes)
}
