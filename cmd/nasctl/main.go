package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/naskit/nasd/pkg/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

const defaultDaemonURL = "http://127.0.0.1:8080"

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	rootCmd := &cobra.Command{
		Use:     "nasctl",
		Short:   "Manage plugins of a nasd appliance",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	rootCmd.PersistentFlags().StringP("daemon-url", "d", defaultDaemonURL, "the nasd API URL")
	rootCmd.PersistentFlags().String("admin-access-token", os.Getenv("NASD_ADMIN_ACCESS_TOKEN"), "admin access token")
	rootCmd.PersistentFlags().SortFlags = false

	rootCmd.AddCommand(
		newListCmd(log),
		newUpdatesCmd(log),
		newReleasesCmd(log),
		newInstallCmd(log),
		newUpdateCmd(log),
		newUninstallCmd(log),
		newHookCmd(log),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func newClient(cmd *cobra.Command) *client.Client {
	daemonURL := must(cmd.Flags().GetString("daemon-url"))
	token := must(cmd.Flags().GetString("admin-access-token"))
	return client.New(daemonURL, token)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runE(log *logrus.Logger, fn func(ctx context.Context, c *client.Client, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()
		if err := fn(ctx, newClient(cmd), args); err != nil {
			log.Errorf("ERROR: %v", err)
			os.Exit(1)
		}
		return nil
	}
}

func newListCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: runE(log, func(ctx context.Context, c *client.Client, _ []string) error {
			plugins, err := c.ListPlugins(ctx)
			if err != nil {
				return err
			}
			return printJSON(plugins)
		}),
	}
}

func newUpdatesCmd(log *logrus.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updates",
		Short: "Show plugins with pending updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()
			forceRefresh := must(cmd.Flags().GetBool("refresh"))
			statuses, err := newClient(cmd).CheckUpdates(ctx, forceRefresh)
			if err != nil {
				log.Errorf("ERROR: %v", err)
				os.Exit(1)
			}
			return printJSON(statuses)
		},
	}
	cmd.Flags().Bool("refresh", false, "bypass the release cache")
	return cmd
}

func newReleasesCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "releases <repo-url>",
		Short: "List the releases of a plugin source repository",
		Args:  cobra.ExactArgs(1),
		RunE: runE(log, func(ctx context.Context, c *client.Client, args []string) error {
			idx, err := c.ListReleases(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(idx)
		}),
	}
}

func newInstallCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "install <repo-url> <tag>",
		Short: "Install a plugin release",
		Args:  cobra.ExactArgs(2),
		RunE: runE(log, func(ctx context.Context, c *client.Client, args []string) error {
			ack, err := c.Install(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			log.Infof("accepted as operation %s", ack.OperationID)
			return nil
		}),
	}
}

func newUpdateCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "update [plugin]",
		Short: "Update one plugin, or every plugin with a pending update",
		Args:  cobra.MaximumNArgs(1),
		RunE: runE(log, func(ctx context.Context, c *client.Client, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			if name == "" {
				log.Warn("updating all plugins...")
			}
			ack, err := c.Update(ctx, name)
			if err != nil {
				return err
			}
			log.Infof("accepted as operation %s", ack.OperationID)
			return nil
		}),
	}
}

func newUninstallCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <plugin>",
		Short: "Uninstall a plugin",
		Args:  cobra.ExactArgs(1),
		RunE: runE(log, func(ctx context.Context, c *client.Client, args []string) error {
			removed, err := c.Uninstall(ctx, args[0])
			if err != nil {
				return err
			}
			for _, path := range removed {
				log.Infof("removed %s", path)
			}
			return nil
		}),
	}
}

func newHookCmd(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "hook <plugin> <hook>",
		Short: "Run a plugin-defined function",
		Args:  cobra.ExactArgs(2),
		RunE: runE(log, func(ctx context.Context, c *client.Client, args []string) error {
			return c.RunHook(ctx, args[0], args[1])
		}),
	}
}
