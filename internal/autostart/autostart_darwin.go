//go:build darwin

package autostart

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
)

const plistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
</dict>
</plist>
`

func label(name string) string {
	return "io.sidemo." + name
}

func plistPath(name string) string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", label(name)+".plist")
}

func IsEnabled(name string) (bool, error) {
	_, err := os.Stat(plistPath(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Enable starts the current executable with args at login.
func Enable(name string, args []string) error {
	exePath, err := os.Executable()
	if err != nil {
		return err
	}

	dir := filepath.Dir(plistPath(name))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	var b strings.Builder
	for _, a := range append([]string{exePath}, args...) {
		fmt.Fprintf(&b, "        <string>%s</string>\n", html.EscapeString(a))
	}
	content := []byte(fmt.Sprintf(plistTemplate, label(name), b.String()))
	return os.WriteFile(plistPath(name), content, 0644)
}

func Disable(name string) error {
	err := os.Remove(plistPath(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
