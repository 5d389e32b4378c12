//go:build !unix

package diskmanager

import "errors"

func statfs(string) (Usage, error) {
	return Usage{}, errors.New("statfs not supported on this platform")
}
