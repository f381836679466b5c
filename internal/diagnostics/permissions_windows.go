//go:build windows

package diagnostics

import (
	"os"
	"os/user"
)

const defaultEngineSocket = `\\.\pipe\docker_engine`

func currentIdentity() (Identity, error) {
	id := Identity{UID: os.Geteuid(), GID: os.Getegid(), Groups: []string{}}
	u, err := user.Current()
	if err != nil {
		return id, err
	}
	id.Username = u.Username
	return id, nil
}

// Named pipes cannot be probed without dialing them; a successful stat
// counts as accessible.
func checkSocket(path string) SocketAccess {
	if _, err := os.Stat(path); err != nil {
		return SocketAccess{Err: err}
	}
	return SocketAccess{Exists: true, IsSocket: true, Accessible: true}
}
