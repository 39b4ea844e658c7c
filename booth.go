package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booth [flags] command [args...]",
		Short: "booth - a kiosk Wayland compositor",
		Long: `booth is a Wayland compositor that shows a single application
fullscreen, with layer shell surfaces such as on-screen keyboards on
top of it. It exits when the application does.

Every flag can also be set with a BOOTH_ environment variable, such as
BOOTH_BACKEND=native.`,
		Args: cobra.ArbitraryArgs,
	}
	cmd.Flags().SetInterspersed(false)
	addFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd.Flags())
		if err != nil {
			return err
		}
		config, err := loadConfig(v, args)
		if err != nil {
			return err
		}
		cmd.SilenceUsage = true

		logrus.SetLevel(config.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM, unix.SIGHUP)
		defer stop()

		server := Server{Config: config}
		return server.Run(ctx)
	}

	return cmd
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd := rootCmd()
	cmd.SilenceErrors = true
	err := cmd.Execute()
	if err != nil {
		logrus.WithError(err).Fatalln("booth failed")
	}
}
