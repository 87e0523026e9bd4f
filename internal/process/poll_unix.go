//go:build unix

package process

import "golang.org/x/sys/unix"

// poll performs a non-blocking wait on pid. done reports whether the child
// has terminated and was reaped by this call; code is nil when it was
// killed by a signal.
func poll(pid int) (done bool, code *int, err error) {
	var ws unix.WaitStatus
	for {
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, nil, err
		}
		if wpid == 0 {
			return false, nil, nil
		}
		break
	}
	if ws.Exited() {
		c := ws.ExitStatus()
		return true, &c, nil
	}
	return true, nil, nil
}
