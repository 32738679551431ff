//go:build windows

package autostart

import (
	"strings"

	"golang.org/x/sys/windows/registry"
)

const regKey = `Software\Microsoft\Windows\CurrentVersion\Run`

func valueName(name string) string {
	return "sidemo-" + name
}

func IsEnabled(name string) (bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, regKey, registry.QUERY_VALUE)
	if err != nil {
		return false, err
	}
	defer k.Close()

	_, _, err = k.GetStringValue(valueName(name))
	if err == registry.ErrNotExist {
		return false, nil
	}
	return err == nil, err
}

// Enable starts the current executable with args at login.
func Enable(name string, args []string) error {
	exec, err := command(args, quote)
	if err != nil {
		return err
	}

	k, _, err := registry.CreateKey(registry.CURRENT_USER, regKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	return k.SetStringValue(valueName(name), exec)
}

func Disable(name string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, regKey, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	return k.DeleteValue(valueName(name))
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
