package commands

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/audio"
	"github.com/ent0n29/sentio/internal/config"
	"github.com/ent0n29/sentio/internal/conversation"
	"github.com/ent0n29/sentio/internal/playback"
)

var (
	chatEngine   string
	chatSpeak    bool
	sayOutput    string
	sayEngine    string
	listenFormat string
	listenRate   int
	listenEngine string
)

var chatCmd = &cobra.Command{
	Use:   "chat <text>",
	Short: "Stream one agent reply to stdout",
	Long: `Stream one agent reply to stdout.

With --speak the reply runs as a full turn: sentences are synthesized and
played on the clock output, and the command waits for playback to finish.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(cfg, newLogger(cfg), chatSpeak)
		if err != nil {
			return err
		}
		text := strings.Join(args, " ")
		if chatEngine != "" {
			orch.SetAgent(chatEngine, adhapi.Settings{})
		}
		if chatSpeak {
			return speakTurn(cmd, orch, cfg, text)
		}

		engine, settings := orch.Agent()
		out := cmd.OutOrStdout()
		err = orch.StreamingChat(cmd.Context(), text, engine, settings,
			func(_ int, delta string) { fmt.Fprint(out, delta) },
			func(count int) {
				fmt.Fprintln(out)
				printVerbose(cmd, "chunks=%d conversation=%s", count, orch.CurrentConversation())
			},
		)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		return nil
	},
}

// speakTurn runs text as a full turn and drives the playback queue until
// every clip has played.
func speakTurn(cmd *cobra.Command, orch *conversation.Orchestrator, cfg config.Config, text string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	driver := playback.NewDriver(orch.Queue(), nil, cfg.RenderTick, cfg.LipFactor)
	go func() { _ = driver.Run(ctx) }()

	reply, err := orch.Chat(ctx, text)
	if err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	if err := orch.Queue().WaitDrained(ctx, 0); err != nil {
		return err
	}
	printVerbose(cmd, "turn=%s segments=%d clips=%d conversation=%s", reply.TurnID, reply.Segments, reply.Clips, reply.ConversationID)
	return nil
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Synthesize text to an audio file",
	Long: `Synthesize text with the configured TTS engine and write the clip.

The file extension follows the clip's container when -o is not given.

Example:
  sentio say -o hello.wav "hello there"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(cfg, newLogger(cfg), false)
		if err != nil {
			return err
		}
		engine := cfg.TTSEngine
		if sayEngine != "" {
			engine = sayEngine
		}
		clip := orch.TTS(cmd.Context(), strings.Join(args, " "), engine)
		if len(clip) == 0 {
			return fmt.Errorf("say: no audio returned")
		}

		path := sayOutput
		if path == "" {
			ext := string(audio.Sniff(clip))
			if ext == "" {
				ext = "bin"
			}
			path = "say." + ext
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		buf, decodeErr := audio.Decode(clip)
		if strings.EqualFold(filepath.Ext(path), ".wav") && audio.Sniff(clip) != audio.FormatWAV {
			if decodeErr != nil {
				return fmt.Errorf("say: convert to wav: %w", decodeErr)
			}
			err = audio.WriteWAVPCM16LEFile(path, buf.PCM16LE(), buf.SampleRate)
		} else {
			err = os.WriteFile(path, clip, 0o644)
		}
		if err != nil {
			return err
		}

		detail := ""
		if decodeErr == nil {
			detail = fmt.Sprintf(" (%s, %d Hz)", buf.Duration().Round(time.Millisecond), buf.SampleRate)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s from %d bytes of %s%s\n", path, len(clip), audio.Sniff(clip), detail)
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen <audio-file>",
	Short: "Recognize speech from an audio file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		orch, err := newOrchestrator(cfg, newLogger(cfg), false)
		if err != nil {
			return err
		}
		format := listenFormat
		if format == "" {
			format = string(audio.Sniff(data))
		}
		text := orch.ASR(cmd.Context(), bytes.NewReader(data), conversation.ASROptions{
			Engine:     listenEngine,
			Format:     format,
			SampleRate: listenRate,
		})
		if text == "" {
			return conversation.ErrNoSpeech
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatEngine, "engine", "", "agent engine (default from config)")
	chatCmd.Flags().BoolVar(&chatSpeak, "speak", false, "synthesize and play the reply as a full turn")
	sayCmd.Flags().StringVarP(&sayOutput, "output", "o", "", "output file")
	sayCmd.Flags().StringVar(&sayEngine, "engine", "", "TTS engine (default from config)")
	listenCmd.Flags().StringVar(&listenFormat, "format", "", "audio format sent to ASR (default sniffed)")
	listenCmd.Flags().IntVar(&listenRate, "sample-rate", 0, "sample rate sent to ASR (default from config)")
	listenCmd.Flags().StringVar(&listenEngine, "engine", "", "ASR engine (default from config)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(listenCmd)
}
