package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"rtspplayer/internal/player"
	"rtspplayer/pkg/rtp"
)

var (
	configPath string
	logLevel   string
	noCache    bool

	rootCmd = &cobra.Command{
		Use:   "rtspplayer <server_host> <server_port> <rtp_port> <video_file>",
		Short: "Plays an MJPEG stream from an RTSP server over RTP/UDP.",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(4)(cmd, args); err != nil {
				return err
			}
			for _, arg := range args[1:3] {
				if _, err := strconv.ParseUint(arg, 10, 16); err != nil {
					return errors.Wrapf(err, "parse port argument %q failed", arg)
				}
			}
			return nil
		},
		SilenceUsage: true,
		RunE:         run,
	}
)

// loadConfig layers the config file, positional arguments and flags
func loadConfig(args []string) (*player.Config, error) {
	config := player.DefaultConfig()
	if configPath != "" {
		var err error
		if config, err = player.LoadConfig(configPath); err != nil {
			return nil, errors.Wrap(err, "load config failed")
		}
	}

	config.Server.Host = args[0]
	config.Server.Port, _ = strconv.Atoi(args[1])
	config.RTP.Port, _ = strconv.Atoi(args[2])
	config.Stream.Resource = args[3]
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if noCache {
		config.Cache.Enabled = false
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

func run(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(args)
	if err != nil {
		return err
	}
	player.InitLogger(config)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &syncWriter{w: cmd.OutOrStdout()}
	p := player.New(config,
		player.WithStatsHandler(func(r rtp.Report) {
			fmt.Fprintf(out, "stats: %s\n", r)
		}),
		player.WithDescriptionHandler(func(d player.Description) {
			fmt.Fprintf(out, "description:\n%s\n", d.Text)
		}),
		player.WithErrorHandler(func(err error) {
			fmt.Fprintf(out, "error: %v\n", err)
		}),
	)

	if err := p.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect failed")
	}
	defer func() {
		if err := p.Shutdown(); err != nil {
			slog.Warn("Shutdown incomplete", "err", err)
		}
	}()

	return runShell(ctx, cmd.InOrStdin(), out, p)
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "yaml config file, e.g. configs/default.yaml")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "do not write the current frame to disk")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Player exited", "err", err)
		os.Exit(1)
	}
}
