//go:build !unix

package state

import "os"

func writable(p string) error {
	tmp, err := os.CreateTemp(p, ".validate-*")
	if err != nil {
		return err
	}
	tmp.Close()
	return os.Remove(tmp.Name())
}
