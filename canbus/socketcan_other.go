//go:build !linux

package canbus

import "errors"

// ErrUnsupported is returned by the SocketCAN helpers on non-Linux systems.
var ErrUnsupported = errors.New("canbus: SocketCAN is only available on linux")

func DialSocketCAN(string) (Bus, error) { return nil, ErrUnsupported }

func IsInterfaceUp(string) (bool, error) { return false, ErrUnsupported }

func SetInterfaceUp(string) error { return ErrUnsupported }

func SetInterfaceDown(string) error { return ErrUnsupported }
