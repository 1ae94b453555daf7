//go:build unix

package daq

import (
	"errors"

	"golang.org/x/sys/unix"
)

// isDeviceGone USB 串口被拔出或权限被收回时内核返回的 errno
func isDeviceGone(err error) bool {
	return errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.EBADF) ||
		errors.Is(err, unix.EACCES)
}
