//go:build linux

package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const desktopEntry = `[Desktop Entry]
Type=Application
Name=%s
Exec=%s
Hidden=false
NoDisplay=true
X-GNOME-Autostart-enabled=true
Comment=Single instance listener for %s
`

// Quoted Exec arguments reserve these characters. The string-level escape
// of the key file is applied on top, so a literal backslash ends up as four.
var (
	execArgEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	execKeyEscaper = strings.NewReplacer(`\`, `\\`, `%`, `%%`)
)

func execQuote(s string) string {
	return execKeyEscaper.Replace(`"` + execArgEscaper.Replace(s) + `"`)
}

func autostartDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autostart")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "autostart")
}

func desktopFile(name string) string {
	return filepath.Join(autostartDir(), "sidemo-"+name+".desktop")
}

func IsEnabled(name string) (bool, error) {
	_, err := os.Stat(desktopFile(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Enable starts the current executable with args at login.
func Enable(name string, args []string) error {
	dir := autostartDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	exec, err := command(args, execQuote)
	if err != nil {
		return err
	}

	content := []byte(fmt.Sprintf(desktopEntry, name, exec, name))
	return os.WriteFile(desktopFile(name), content, 0644)
}

func Disable(name string) error {
	err := os.Remove(desktopFile(name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
