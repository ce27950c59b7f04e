package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zhouzirui/llmbot-chat/internal/config"
)

var (
	verbose  bool
	envFile  string
	logFile  string
	resumeID string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Streaming chat client",
	Long: `chat connects to the assistant endpoint over a websocket and streams
answers into a terminal transcript. Settings persist between runs.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && envFile != ".env" {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		// The terminal UI owns stdout and stderr, so it logs to a file.
		output := "stderr"
		if cmd.Name() == "tui" || cmd == cmd.Root() {
			output = logFile
		}
		logger, err = newLogger(output, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runTUI,
}

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Chat in the terminal (default)",
	RunE:  runTUI,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Drive the chat session through a local HTTP API",
	Long: `serve keeps a chat session open and exposes it on CHAT_CONSOLE_ADDR:
snapshots, turns, feedback, settings and a server-sent event stream of
changes.`,
	RunE: runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Cache a credential and make sure the account has a default assistant",
	RunE:  runOnboard,
}

var onboardToken string

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", filepath.Join(os.TempDir(), "llmbot-chat.log"), "log destination of the terminal UI")
	rootCmd.PersistentFlags().StringVar(&resumeID, "resume", "", "resume an existing session instead of starting a new one")

	onboardCmd.Flags().StringVar(&onboardToken, "token", "", "id token to cache (defaults to CHAT_ID_TOKEN)")

	rootCmd.AddCommand(tuiCmd, serveCmd, onboardCmd)
}

func newLogger(output string, debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{output}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
