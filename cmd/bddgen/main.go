// Command bddgen drives a gherkin generator server from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/client"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
)

// cli holds state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	logger logging.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, red("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New(), logger: logging.New("bddgen")}

	root := &cobra.Command{
		Use:   "bddgen",
		Short: "Generate Gherkin hover and popup scenarios for a web page",
		Long: fmt.Sprintf(`%s

Creates generation tasks on a gherkin generator server and follows their
progress over the websocket push channel, polling when push is unavailable.

%s
  bddgen generate https://example.com
  bddgen generate example.com --provider openai --model gpt-4
  bddgen watch 3f6c...            # follow a running task
  bddgen download 3f6c... hover   # save hover_tests_*.feature`,
			bold("bddgen"), bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("server", "http://localhost:5000", "server base URL")
	flags.Duration("poll-interval", client.DefaultPollInterval, "polling interval when push is unavailable")
	flags.Bool("no-push", false, "poll only, never open the push channel")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.generateCommand(),
		c.watchCommand(),
		c.statusCommand(),
		c.listCommand(),
		c.logsCommand(),
		c.downloadCommand(),
		c.configCommand(),
	)
	return root
}

// loadConfig merges flags, BDDGEN_* environment variables and an optional
// bddgen.yaml from the home or working directory.
func (c *cli) loadConfig(cmd *cobra.Command) error {
	c.v.SetEnvPrefix("BDDGEN")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	c.v.SetConfigName("bddgen")
	c.v.SetConfigType("yaml")
	c.v.AddConfigPath("$HOME")
	c.v.AddConfigPath(".")
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logging.SetLevel(logging.ParseLevel(c.v.GetString("log-level")))
	return nil
}

func (c *cli) client() (*client.Client, error) {
	return client.New(c.v.GetString("server"), nil)
}

func (c *cli) supervisor(api *client.Client) (*client.Supervisor, error) {
	interval := c.v.GetDuration("poll-interval")
	if interval <= 0 {
		interval = client.DefaultPollInterval
	}
	opts := client.SupervisorOptions{
		Poll:   client.NewPollSource(api, interval, c.logger),
		Logger: c.logger,
	}
	if !c.v.GetBool("no-push") {
		opts.Push = client.NewPushSource(api, c.logger)
	}
	return client.NewSupervisor(opts)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
