package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gravlauncher/internal/config"
	"gravlauncher/internal/debug"
	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/orchestrator"
)

type rootOptions struct {
	// argv is the launcher's own argument list, reused for the terminal
	// relaunch and the post-update re-exec.
	argv []string

	configFile  string
	noTerminal  bool
	headless    bool
	channel     string
	manifestURL string
	gameDir     string
	skipUpdate  bool
	confirm     bool
	debug       bool
}

func newRootCmd(argv []string) *cobra.Command {
	opts := &rootOptions{argv: argv}

	cmd := &cobra.Command{
		Use:   "grav-launcher [flags] [-- game args]",
		Short: "Keep GRAV up to date and launch it",
		Long: `grav-launcher checks the release manifest, updates itself and the game
when newer releases are published, then starts GRAV and shows its output in a
log viewer that works with a keyboard or a gamepad.

Arguments after the flags are passed to the game.`,
		Args:          cobra.ArbitraryArgs,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			debug.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, opts, args)
		},
	}
	cmd.SetVersionTemplate("grav-launcher version {{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Extra config file merged above the user and portable config")
	flags.BoolVar(&opts.noTerminal, "no-terminal", false, "Never relaunch inside a terminal emulator")
	flags.StringVar(&opts.channel, "channel", "", "Release channel (overrides update.channel)")
	flags.StringVar(&opts.manifestURL, "manifest-url", "", "Release manifest URL (overrides manifest.url)")
	flags.StringVar(&opts.gameDir, "game-dir", "", "Game install directory (overrides game.dir)")
	flags.BoolVar(&opts.skipUpdate, "skip-update", false, "Launch the installed game without checking for updates")
	flags.BoolVar(&opts.confirm, "confirm", false, "Ask before applying each update")
	flags.BoolVar(&opts.debug, "debug", false, "Write a debug log to ~/.grav/debug.log")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Print plain status lines instead of the log viewer")

	cmd.AddCommand(
		newUpdateCmd(opts),
		newStatusCmd(),
		newInstallCmd(),
		newVersionCmd(),
	)
	return cmd
}

// setup loads configuration, applies explicitly set flags on top, and starts
// debug logging. It runs before every command.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	if err := config.Initialize(config.WithConfigFile(o.configFile)); err != nil {
		return configError("load configuration", err)
	}

	flags := cmd.Flags()
	overrides := map[string]any{}
	if flags.Changed("channel") {
		overrides[config.KeyUpdateChannel] = strings.TrimSpace(o.channel)
	}
	if flags.Changed("manifest-url") {
		overrides[config.KeyManifestURL] = strings.TrimSpace(o.manifestURL)
	}
	if flags.Changed("game-dir") {
		overrides[config.KeyGameDir] = strings.TrimSpace(o.gameDir)
	}
	if flags.Changed("skip-update") {
		overrides[config.KeyUpdateSkip] = o.skipUpdate
	}
	if flags.Changed("confirm") {
		overrides[config.KeyUpdateConfirm] = o.confirm
	}
	if flags.Changed("debug") {
		overrides[config.KeyDebug] = o.debug
	}
	if err := config.ApplyOverrides(overrides); err != nil {
		return configError("apply flags", err)
	}

	if err := debug.Init(config.GetBool(config.KeyDebug)); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: debug log unavailable: %v\n", err)
	}
	debug.Logf("grav-launcher %s: %s %v", Version, cmd.CommandPath(), o.argv)
	return nil
}

func configError(msg string, err error) error {
	return &exitError{
		code: orchestrator.ExitFatal,
		err:  appErrors.New(appErrors.CodeConfigurationError, msg, err),
	}
}
