//go:build linux || freebsd

package logfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync flushes file data and the metadata needed to read it back.
//
// On Linux/FreeBSD, fdatasync() provides sufficient guarantees.
func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
