//go:build !(linux || darwin || windows)

package autostart

import "errors"

var errUnsupported = errors.New("autostart: not supported on this platform")

func IsEnabled(name string) (bool, error)    { return false, nil }
func Enable(name string, args []string) error { return errUnsupported }
func Disable(name string) error               { return nil }
