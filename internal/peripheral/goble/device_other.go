//go:build !darwin && !linux

package goble

import (
	"errors"
	"runtime"

	"github.com/go-ble/ble"
)

func newDevice() (ble.Device, error) {
	return nil, errors.New("BLE peripheral mode is not supported on " + runtime.GOOS)
}
