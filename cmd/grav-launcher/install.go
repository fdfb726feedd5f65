package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	appErrors "gravlauncher/internal/errors"
	"gravlauncher/internal/install"
	"gravlauncher/internal/orchestrator"
	"gravlauncher/internal/update"
	"gravlauncher/internal/versions"
)

const sideloadChannel = "sideload"

type sideloadOptions struct {
	component string
	artifact  string
	version   string
	checksum  string
}

func newInstallCmd() *cobra.Command {
	opts := sideloadOptions{}
	cmd := &cobra.Command{
		Use:   "install <launcher|game> <artifact>",
		Short: "Install a release artifact from a local file",
		Long: `install applies a release that was downloaded by other means. The file is
verified against --sha256 and swapped in with the same transaction a network
update uses, so a failure leaves the previous install in place.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.component = args[0]
			opts.artifact = args[1]
			return runSideload(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.version, "version", "", "Release version of the artifact")
	cmd.Flags().StringVar(&opts.checksum, "sha256", "", "Expected SHA-256 of the artifact")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("sha256")
	return cmd
}

func runSideload(ctx context.Context, w io.Writer, opts sideloadOptions) error {
	c, err := versions.ParseComponent(opts.component)
	if err != nil {
		return configError("invalid component", err)
	}
	v, err := update.ParseVersion(opts.version)
	if err != nil {
		return configError("invalid version", err)
	}
	artifact, err := filepath.Abs(opts.artifact)
	if err != nil {
		return configError("invalid artifact path", err)
	}

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	desc := update.ReleaseDescriptor{
		Component:   c,
		Channel:     sideloadChannel,
		Version:     v,
		ArtifactURL: "file://" + artifact,
		Checksum:    strings.ToLower(strings.TrimSpace(opts.checksum)),
	}
	h, err := rt.downloader.Import(ctx, desc, artifact)
	if err != nil {
		return &exitError{
			code: orchestrator.ExitUpdateFailed,
			err:  appErrors.New(orchestrator.Classify(err), fmt.Sprintf("import %s", opts.artifact), err),
		}
	}
	tx, err := rt.replacer.Install(ctx, h, install.TargetFor(c))
	if err != nil {
		code := orchestrator.ExitUpdateFailed
		if appErrors.IsCode(err, appErrors.CodeConfigurationError) {
			code = orchestrator.ExitFatal
		}
		return &exitError{code: code, err: err}
	}

	from := tx.FromVersion
	if from == "" {
		from = "none"
	}
	_, _ = fmt.Fprintf(w, "Installed %s %s (was %s, transaction %s)\n", c, v, from, tx.ID)
	if c == versions.Launcher {
		_, _ = fmt.Fprintln(w, "Restart grav-launcher to use the new version.")
	}
	return nil
}
