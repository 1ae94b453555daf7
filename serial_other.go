//go:build !unix

package daq

import (
	"errors"
	"os"
)

func isDeviceGone(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, os.ErrPermission)
}
