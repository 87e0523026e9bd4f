//go:build !unix

package process

import "errors"

var errPollUnsupported = errors.New("non-blocking wait is not supported on this platform")

func poll(int) (bool, *int, error) { return false, nil, errPollUnsupported }
