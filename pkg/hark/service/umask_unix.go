//go:build !windows

package service

import "golang.org/x/sys/unix"

// setUmaskForDaemon sets a umask that restricts the database and socket files
// to the owning user.
func setUmaskForDaemon() { unix.Umask(0077) }
