//go:build unix

package diskmanager

import "golang.org/x/sys/unix"

func statfs(dir string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return Usage{}, err
	}
	return Usage{
		TotalBytes:     uint64(stat.Blocks) * uint64(stat.Bsize),
		AvailableBytes: uint64(stat.Bavail) * uint64(stat.Bsize),
	}, nil
}
