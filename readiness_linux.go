//go:build linux

package nsq

import (
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// fdOf extracts the raw file descriptor backing a net.Conn via the
// stdlib's SyscallConn escape hatch, so the readiness wait below can
// hand it to unix.Select.
func fdOf(c net.Conn) (uintptr, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return 0, errNotSyscallConn
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	ctrlErr := raw.Control(func(f uintptr) { fd = f })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// waitReadiness is the multiplexer's suspension point (spec.md §4.4
// step 3 / §5): a literal translation of the Python original's
// select.select(readable, writable, exceptional, timeout). readSet
// and exceptSet are always the full live connection set; writeSet is
// the pending-only subset.
//
// Returns the subsets of conns found readable, writable, and
// exceptional. All three are empty on timeout.
func waitReadiness(conns []*Connection, writeSet map[*Connection]bool, timeout time.Duration) (readable, writable, exceptional []*Connection, err error) {
	if len(conns) == 0 {
		return nil, nil, nil, nil
	}

	var readFds, writeFds, exceptFds unix.FdSet
	fdToConn := make(map[int]*Connection, len(conns))
	maxFD := 0

	for _, c := range conns {
		fd, ferr := c.rawFD()
		if ferr != nil {
			continue
		}
		ifd := int(fd)
		fdToConn[ifd] = c
		setFd(&readFds, ifd)
		setFd(&exceptFds, ifd)
		if writeSet[c] {
			setFd(&writeFds, ifd)
		}
		if ifd > maxFD {
			maxFD = ifd
		}
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	for {
		n, serr := unix.Select(maxFD+1, &readFds, &writeFds, &exceptFds, &tv)
		if serr == unix.EINTR {
			continue
		}
		if serr != nil {
			return nil, nil, nil, serr
		}
		if n == 0 {
			return nil, nil, nil, nil
		}
		break
	}

	for ifd, c := range fdToConn {
		if fdIsSet(&readFds, ifd) {
			readable = append(readable, c)
		}
		if fdIsSet(&writeFds, ifd) {
			writable = append(writable, c)
		}
		if fdIsSet(&exceptFds, ifd) {
			exceptional = append(exceptional, c)
		}
	}
	return readable, writable, exceptional, nil
}

func setFd(set *unix.FdSet, fd int) {
	set.Set(fd)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.IsSet(fd)
}

var errNotSyscallConn = &Error{Kind: ErrFatalServer, Msg: "connection does not expose a raw file descriptor"}
