package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"libsingleinstance/internal/autostart"
	"libsingleinstance/internal/config"
	"libsingleinstance/internal/singleinstance"
)

var appVersion = "1.0.0"

func SetVersion(v string) {
	appVersion = v
}

func Execute() error {
	return NewRootCmd().Execute()
}

// globals holds the persistent flags. Empty values fall back to config.
type globals struct {
	app      string
	baseDir  string
	logLevel string
	logger   zerolog.Logger
}

func (g *globals) appName() string {
	if g.app != "" {
		return g.app
	}
	return config.Get().GetString("app_name")
}

func (g *globals) options() []singleinstance.Option {
	cfg := config.Get()
	baseDir := g.baseDir
	if baseDir == "" {
		baseDir = cfg.GetString("base_dir")
	}

	opts := []singleinstance.Option{
		singleinstance.WithBaseDir(baseDir),
		singleinstance.WithLogger(g.logger),
	}
	if n := cfg.GetInt("max_message_size"); n > 0 {
		opts = append(opts, singleinstance.WithMaxMessageSize(n))
	}
	return opts
}

func (g *globals) setupLogging(cmd *cobra.Command) error {
	level := g.logLevel
	if level == "" {
		level = config.Get().GetString("log_level")
	}
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	g.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
	return nil
}

func NewRootCmd() *cobra.Command {
	g := &globals{logger: log.Logger}

	rootCmd := &cobra.Command{
		Use:           "sidemo",
		Short:         "Single instance demo",
		Long:          "sidemo runs one listener per application name and forwards the arguments of every later invocation to it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setupLogging(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&g.app, "app", "", "Application name (default from config app_name)")
	rootCmd.PersistentFlags().StringVar(&g.baseDir, "base-dir", "", "Directory holding the application directory (default $HOME)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (default from config log_level)")

	rootCmd.AddCommand(
		newListenCmd(g),
		newAutoCmd(g),
		newStatusCmd(g),
		newConfigCmd(),
		newVersionCmd(),
		newAutostartCmd(g),
	)

	return rootCmd
}

// forwardArgs builds the argument list sent to the running instance; the
// application name stands in for the program name.
func forwardArgs(name string, args []string) []string {
	return append([]string{name}, args...)
}

func printMessage(cmd *cobra.Command, msg singleinstance.Message) {
	var rest []string
	if len(msg.Args) > 1 {
		rest = msg.Args[1:]
	}
	fmt.Fprintf(cmd.OutOrStdout(), "New instance: %s\n", strings.Join(rest, " "))
}

func isStop(msg singleinstance.Message) bool {
	return len(msg.Args) == 2 && msg.Args[1] == "--stop"
}

func newListenCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "listen [-- args...]",
		Short: "Become the running instance, or forward args to it",
		Long: "The first invocation prints every argument list forwarded to it until it is\n" +
			"interrupted or receives --stop. Later invocations forward their args and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := g.appName()
			inst, err := singleinstance.Acquire(name, forwardArgs(name, args), g.options()...)
			if errors.Is(err, singleinstance.ErrAlreadyRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Another instance already running")
				return nil
			}
			if err != nil {
				return err
			}
			defer inst.Close()

			stop := notifyInterrupt(cmd.Context(), inst.Interrupt)
			defer stop()

			fmt.Fprintln(cmd.OutOrStdout(), "I'm the first instance")
			for {
				msg, ok := inst.Check(true)
				if !ok {
					// in case of interruption
					fmt.Fprintln(cmd.OutOrStdout(), "Stopping")
					return nil
				}
				printMessage(cmd, msg)
				inst.Pop()
				if isStop(msg) {
					return nil
				}
			}
		},
	}
}

func newAutoCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "auto [-- args...]",
		Short: "Like listen, but handles forwarded args on a background dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				done     = make(chan struct{})
				doneOnce sync.Once
				outMu    sync.Mutex
			)
			finish := func() { doneOnce.Do(func() { close(done) }) }

			name := g.appName()
			d, err := singleinstance.AcquireAuto(name, forwardArgs(name, args), func(msg singleinstance.Message) {
				outMu.Lock()
				printMessage(cmd, msg)
				outMu.Unlock()
				if isStop(msg) {
					finish()
				}
			}, g.options()...)
			if errors.Is(err, singleinstance.ErrAlreadyRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "Another instance already running")
				return nil
			}
			if err != nil {
				return err
			}
			defer d.Close()

			stop := notifyInterrupt(cmd.Context(), finish)
			defer stop()

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

			tty := isTerminal()
			for cnt := 0; ; cnt++ {
				if tty {
					outMu.Lock()
					fmt.Fprintf(cmd.OutOrStdout(), "%d\r", cnt)
					outMu.Unlock()
				}

				select {
				case <-done:
					return nil
				case <-d.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the instance slot and its holder",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := g.appName()
			slot, err := singleinstance.ResolveSlot(name, g.options()...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Instance Slot")
			fmt.Fprintln(out, "─────────────")
			fmt.Fprintf(out, "App:       %s\n", slot.App)
			fmt.Fprintf(out, "Directory: %s\n", slot.Dir)
			fmt.Fprintf(out, "Lock:      %s\n", slot.LockPath)
			fmt.Fprintf(out, "Channel:   %s\n", slot.PipePath)

			pid, err := singleinstance.HolderPID(name, g.options()...)
			switch {
			case errors.Is(err, singleinstance.ErrNotRunning):
				fmt.Fprintln(out, "Holder:    none")
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "Holder:    pid %d\n", pid)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := config.NormalizeKey(args[0])
			value := args[1]

			cfg := config.Get()
			cfg.Set(key, value)
			if err := config.Save(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config set: %s = %s\n", key, value)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration")
			fmt.Fprintln(cmd.OutOrStdout(), "─────────────")
			fmt.Fprintf(cmd.OutOrStdout(), "app_name:         %s\n", cfg.GetString("app_name"))
			fmt.Fprintf(cmd.OutOrStdout(), "base_dir:         %s\n", cfg.GetString("base_dir"))
			fmt.Fprintf(cmd.OutOrStdout(), "log_level:        %s\n", cfg.GetString("log_level"))
			fmt.Fprintf(cmd.OutOrStdout(), "max_message_size: %d\n", cfg.GetInt("max_message_size"))
			fmt.Fprintf(cmd.OutOrStdout(), "config_file:      %s\n", cfg.ConfigFileUsed())
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			key := config.NormalizeKey(args[0])
			fmt.Fprintln(cmd.OutOrStdout(), cfg.GetString(key))
			return nil
		},
	}

	configCmd.AddCommand(setCmd, showCmd, getCmd)
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "sidemo v%s\n", appVersion)
			fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

func newAutostartCmd(g *globals) *cobra.Command {
	autostartCmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start the auto listener at login",
	}

	enableCmd := &cobra.Command{
		Use:   "enable",
		Short: "Register the listener to start at login",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := g.appName()
			if err := autostart.Enable(name, []string{"auto", "--app", name}); err != nil {
				return fmt.Errorf("failed to enable autostart: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Autostart enabled for %s\n", name)
			return nil
		},
	}

	disableCmd := &cobra.Command{
		Use:   "disable",
		Short: "Remove the login entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := g.appName()
			if err := autostart.Disable(name); err != nil {
				return fmt.Errorf("failed to disable autostart: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Autostart disabled for %s\n", name)
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the login entry exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := autostart.IsEnabled(g.appName())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Autostart: %v\n", on)
			return nil
		},
	}

	autostartCmd.AddCommand(enableCmd, disableCmd, statusCmd)
	return autostartCmd
}

func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
