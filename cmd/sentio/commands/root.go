package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/config"
	"github.com/ent0n29/sentio/internal/conversation"
	"github.com/ent0n29/sentio/internal/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sentio",
	Short: "Spoken conversation host for an ADH server",
	Long: `sentio - hosts real-time spoken conversations in front of an ADH server.

It turns speech into text with the server's ASR engines, streams replies from
its agent engines, cuts them into sentences for TTS and plays the audio in
order while driving an avatar's lip sync.

Configuration is read from a YAML file (--config or SENTIO_CONFIG) and then
overridden by environment variables (APP_*, ADH_*, SENTIO_*, DATABASE_URL).

Examples:
  # Run the host
  sentio serve --config sentio.yaml

  # Check the ADH server and list agents
  sentio ping
  sentio agents

  # One-shot turns from the terminal
  sentio chat "what time is it"
  sentio say -o hello.wav "hello there"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $SENTIO_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load()
}

// newLogger builds the process logger. Verbose forces debug level.
func newLogger(cfg config.Config) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.Setup(os.Stderr, level, cfg.LogFormat)
}

func newClient(cfg config.Config, logger *slog.Logger) (*adhapi.Client, error) {
	client, err := adhapi.NewClient(adhapi.Config{
		BaseURL:    cfg.ServerURL,
		BasePath:   cfg.ServerBasePath,
		Version:    cfg.ServerVersion,
		UserID:     cfg.UserID,
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adh client: %w", err)
	}
	return client, nil
}

// newOrchestrator builds a standalone orchestrator for one-shot commands.
// Unless speak is set, turns skip TTS.
func newOrchestrator(cfg config.Config, logger *slog.Logger, speak bool) (*conversation.Orchestrator, error) {
	client, err := newClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return conversation.New(conversation.Options{
		Client: client,
		Logger: logger,
		Config: conversation.Config{
			ASREngine:         cfg.ASREngine,
			TTSEngine:         cfg.TTSEngine,
			AgentEngine:       cfg.AgentEngine,
			ASRSettings:       cfg.ASRSettings,
			TTSSettings:       cfg.TTSSettings,
			AgentSettings:     cfg.AgentSettings,
			ASRFormat:         cfg.ASRFormat,
			ASRSampleRate:     cfg.ASRSampleRate,
			ASRSampleWidth:    cfg.ASRSampleWidth,
			Punctuation:       cfg.TTSPunctuation,
			SentenceMinLength: cfg.TTSSentenceMinLength,
			TTSConcurrency:    cfg.TTSConcurrency,
			Mute:              !speak,
		},
	}), nil
}

// printVerbose prints to stderr when --verbose is set.
func printVerbose(cmd *cobra.Command, format string, args ...any) {
	if verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
	}
}
