//go:build linux

package faultsource

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Userfaultfd is a Source backed by the real Linux userfaultfd(2) facility.
// It is not required to run the core (see spec.md §6's fault-source
// contract) and exists as the extension point a concrete deployment would
// use in place of Simulated. Grounded on the ioctl/poll/read sequence of
// the retrieved e2b-dev-infra userfaultfd driver (other_examples), adapted
// to this package's Source interface and to zero-fill-only semantics (the
// core never copies real page content, per spec.md §4.E).
type Userfaultfd struct {
	fd int

	mu    sync.Mutex
	armed map[uintptr]uintptr
}

const (
	_UFFDIO_API      = 0xc018aa3f
	_UFFDIO_REGISTER = 0xc020aa00
	_UFFDIO_UNREGISTER = 0x8010aa01
	_UFFDIO_ZEROPAGE = 0xc020aa04

	_UFFDIO_REGISTER_MODE_MISSING = 1 << 0

	_UFFD_API = 0xAA
)

type uffdioAPI struct {
	api      uint64
	features uint64
	ioctls   uint64
}

type uffdioRange struct {
	start uintptr
	length uintptr
}

type uffdioRegister struct {
	rng    uffdioRange
	mode   uint64
	ioctls uint64
}

type uffdioZeropage struct {
	rng    uffdioRange
	mode   uint64
	zeroed int64
}

// uffdMsg mirrors struct uffd_msg from <linux/userfaultfd.h>: an 8-byte
// event tag followed by a 24-byte union we only ever interpret as the
// pagefault arm (flags in its first 8 bytes, the address in the next 8,
// i.e. bytes 16..24 of the message).
type uffdMsg struct {
	event    uint8
	_        [7]byte
	pagefault struct {
		flags   uint64
		address uint64
		feat    uint64
	}
}

const uffdEventPagefault = 0x12
const uffdPagefaultFlagWrite = 1 << 0

// NewUserfaultfd opens a new userfaultfd file descriptor and performs the
// API handshake. Requires CAP_SYS_PTRACE (or unprivileged_userfaultfd on
// kernels that allow it).
func NewUserfaultfd() (*Userfaultfd, error) {
	fd, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, uintptr(unix.O_CLOEXEC|unix.O_NONBLOCK), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("faultsource: userfaultfd(2): %w", errno)
	}

	api := uffdioAPI{api: _UFFD_API, features: 0}
	if err := ioctl(int(fd), _UFFDIO_API, unsafe.Pointer(&api)); err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("faultsource: UFFDIO_API: %w", err)
	}

	return &Userfaultfd{fd: int(fd), armed: make(map[uintptr]uintptr)}, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Arm registers [base, base+length) for missing-page notifications.
func (u *Userfaultfd) Arm(base, length uintptr) error {
	reg := uffdioRegister{
		rng:  uffdioRange{start: base, length: length},
		mode: _UFFDIO_REGISTER_MODE_MISSING,
	}
	if err := ioctl(u.fd, _UFFDIO_REGISTER, unsafe.Pointer(&reg)); err != nil {
		return fmt.Errorf("faultsource: UFFDIO_REGISTER: %w", err)
	}
	u.mu.Lock()
	u.armed[base] = length
	u.mu.Unlock()
	return nil
}

// Disarm unregisters a previously armed range.
func (u *Userfaultfd) Disarm(base uintptr) error {
	u.mu.Lock()
	length, ok := u.armed[base]
	delete(u.armed, base)
	u.mu.Unlock()
	if !ok {
		return nil
	}
	rng := uffdioRange{start: base, length: length}
	if err := ioctl(u.fd, _UFFDIO_UNREGISTER, unsafe.Pointer(&rng)); err != nil {
		return fmt.Errorf("faultsource: UFFDIO_UNREGISTER: %w", err)
	}
	return nil
}

// Poll waits for the uffd to become readable (one pagefault message) and
// decodes the faulting address, or returns ErrTimeout/ctx.Err().
func (u *Userfaultfd) Poll(ctx context.Context, timeout time.Duration) (Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, ErrTimeout
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}

		pfds := []unix.PollFd{{Fd: int32(u.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfds, int(remaining/time.Millisecond)+1)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Event{}, fmt.Errorf("faultsource: poll: %w", err)
		}
		if n == 0 || pfds[0].Revents&unix.POLLIN == 0 {
			return Event{}, ErrTimeout
		}

		var buf [unsafe.Sizeof(uffdMsg{})]byte
		nr, err := unix.Read(u.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return Event{}, fmt.Errorf("faultsource: read: %w", err)
		}
		if nr < len(buf) {
			continue
		}
		if buf[0] != uffdEventPagefault {
			continue
		}
		addr := binary.LittleEndian.Uint64(buf[16:24])
		return Event{Addr: uintptr(addr)}, nil
	}
}

// Satisfy zero-fills the page at addr via UFFDIO_ZEROPAGE. EEXIST (already
// mapped) is translated to ErrAlreadyMapped, per spec.md §4.D.
func (u *Userfaultfd) Satisfy(addr uintptr) error {
	z := uffdioZeropage{rng: uffdioRange{start: addr, length: pageSizeHint}}
	if err := ioctl(u.fd, _UFFDIO_ZEROPAGE, unsafe.Pointer(&z)); err != nil {
		if errors.Is(err, unix.EEXIST) {
			return ErrAlreadyMapped
		}
		return fmt.Errorf("faultsource: UFFDIO_ZEROPAGE: %w", err)
	}
	return nil
}

// Close releases the userfaultfd file descriptor.
func (u *Userfaultfd) Close() error {
	return unix.Close(u.fd)
}

const pageSizeHint = 4096
