//go:build !windows

package diagnostics

import (
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

const defaultEngineSocket = "/var/run/docker.sock"

func currentIdentity() (Identity, error) {
	id := Identity{UID: os.Geteuid(), GID: os.Getegid(), Groups: []string{}}

	u, err := user.LookupId(strconv.Itoa(id.UID))
	if err != nil {
		return id, err
	}
	id.Username = u.Username

	gids, err := u.GroupIds()
	if err != nil {
		return id, err
	}
	for _, gid := range gids {
		if g, err := user.LookupGroupId(gid); err == nil {
			id.Groups = append(id.Groups, g.Name)
		}
	}
	return id, nil
}

func checkSocket(path string) SocketAccess {
	fi, err := os.Stat(path)
	if err != nil {
		return SocketAccess{Err: err}
	}
	access := SocketAccess{Exists: true, IsSocket: fi.Mode()&os.ModeSocket != 0}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		access.Err = err
		return access
	}
	access.Accessible = true
	return access
}
