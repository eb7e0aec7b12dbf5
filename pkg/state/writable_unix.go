//go:build unix

package state

import "golang.org/x/sys/unix"

func writable(p string) error {
	return unix.Access(p, unix.W_OK|unix.X_OK)
}
