// Package autostart registers a listener command to run at login.
package autostart

import (
	"os"
	"strings"
)

// command returns the executable followed by args, each passed through q.
func command(args []string, q func(string) string) (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, q(exePath))
	for _, a := range args {
		parts = append(parts, q(a))
	}
	return strings.Join(parts, " "), nil
}
