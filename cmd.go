package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"meetrec/analyzer"
	"meetrec/audio"
	"meetrec/config"
	"meetrec/doctor"
	"meetrec/encoder"
	"meetrec/log"
)

// maxParallelAnalyses bounds concurrent requests from `meetrec analyze`.
const maxParallelAnalyses = 3

var newAnalyzer = analyzer.New

type rootFlags struct {
	logPath    string
	configPath string

	setup     bool
	quiet     bool
	noHotkey  bool
	noMic     bool
	noSystem  bool
	provider  string
	exportDir string
	hotkey    string
}

func newRootCmd() *cobra.Command {
	var f rootFlags

	root := &cobra.Command{
		Use:   "meetrec",
		Short: "Record meetings from the terminal, then transcribe and summarize them",
		Long: "meetrec captures system audio mixed with your microphone, shows a live spectrum " +
			"while recording and keeps recordings in memory until you export them. A recording " +
			"can be sent to Gemini or Groq for a transcript and summary.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogDir(f.logPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(&cfg, f); err != nil {
				return err
			}
			return runRecorder(cfg, recorderOptions{
				configPath: path,
				setup:      f.setup,
				quiet:      f.quiet,
				noHotkey:   f.noHotkey,
			})
		},
	}
	root.Version = version
	root.SetVersionTemplate(fullVersion() + "\n")

	pf := root.PersistentFlags()
	pf.StringVar(&f.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	pf.StringVar(&f.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/meetrec/config.toml)")
	pf.StringVar(&f.provider, "provider", "", "analysis provider: gemini or groq")

	fl := root.Flags()
	fl.BoolVar(&f.setup, "setup", false, "pick the microphone interactively and remember it")
	fl.BoolVar(&f.quiet, "quiet", false, "no audible cues for hotkey start/stop")
	fl.BoolVar(&f.noHotkey, "no-hotkey", false, "do not register the global hotkey")
	fl.StringVar(&f.hotkey, "hotkey", "", `global hotkey, e.g. "ctrl+shift+r" or "alt+f9"`)
	fl.BoolVar(&f.noMic, "no-mic", false, "record system audio only")
	fl.BoolVar(&f.noSystem, "no-system", false, "record the microphone only")
	fl.StringVar(&f.exportDir, "export-dir", "", "directory recordings are exported to")

	root.AddCommand(newAnalyzeCmd(&f))
	root.AddCommand(newDevicesCmd(&f))
	root.AddCommand(newDoctorCmd(&f))
	root.AddCommand(newVersionCmd())
	return root
}

func loadConfig(flagPath string) (config.Config, string, error) {
	path := flagPath
	if path == "" {
		var err error
		if path, err = config.Path(); err != nil {
			return config.Config{}, "", err
		}
	}
	cfg, unknown, err := config.Load(path)
	if err != nil {
		return cfg, path, err
	}
	for _, k := range unknown {
		fmt.Fprintf(os.Stderr, "Warning: unknown config key %q in %s\n", k, path)
		log.Warnf("unknown config key %q", k)
	}
	return cfg, path, nil
}

// applyFlags layers set flags over the file and environment.
func applyFlags(cfg *config.Config, f rootFlags) error {
	if f.provider != "" {
		cfg.Provider = f.provider
	}
	if f.exportDir != "" {
		cfg.ExportDir = f.exportDir
	}
	if f.noMic {
		cfg.IncludeMicrophone = false
	}
	if f.noSystem {
		cfg.IncludeSystem = false
	}
	if f.hotkey != "" {
		cfg.Hotkey = f.hotkey
	}
	return cfg.Validate()
}

func newAnalyzeCmd(f *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "analyze <file>...",
		Short: "Transcribe and summarize audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(&cfg, *f); err != nil {
				return err
			}

			if err := log.Init(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
			}
			defer log.Close()

			an, err := newAnalyzer(cfg.Analyzer())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return analyzeFiles(ctx, an, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall deadline for all files")
	return cmd
}

// analyzeFiles sends every file concurrently and prints the results in
// argument order. A failed file does not cancel the others.
func analyzeFiles(ctx context.Context, an analyzer.Analyzer, paths []string, out io.Writer) error {
	results := make([]*analyzer.Result, len(paths))
	errs := make([]error, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelAnalyses)
	for i, p := range paths {
		g.Go(func() error {
			data, err := os.ReadFile(p)
			if err != nil {
				errs[i] = err
				return nil
			}
			mime := encoder.MIMEType(filepath.Ext(p))
			start := time.Now()
			res, err := an.Analyze(ctx, data, mime)
			info := log.AnalysisInfo{Provider: an.Name(), RecordingID: filepath.Base(p)}
			info.TotalTimeMs = float64(time.Since(start).Milliseconds())
			if err == nil && res.Metrics != nil {
				info.TTFBMs = float64(res.Metrics.TTFB.Milliseconds())
				info.ConnReused = res.Metrics.ConnReused
				info.TLSProtocol = res.Metrics.TLSProtocol
			}
			log.Analysis(info, err)
			results[i], errs[i] = res, err
			return nil
		})
	}
	g.Wait()

	failed := 0
	for i, p := range paths {
		fmt.Fprintf(out, "== %s ==\n", p)
		if errs[i] != nil {
			failed++
			fmt.Fprintf(out, "error: %v\n\n", errs[i])
			continue
		}
		fmt.Fprintf(out, "## Transcription\n%s\n\n## Summary\n%s\n\n",
			strings.TrimSpace(results[i].Transcription), strings.TrimSpace(results[i].Summary))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed", failed, len(paths))
	}
	return nil
}

func newDevicesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			actx, err := audio.NewContext()
			if err != nil {
				return fmt.Errorf("initializing audio: %w", err)
			}
			defer actx.Close()
			devices, err := actx.Devices()
			if err != nil {
				return err
			}
			printDevices(cmd.OutOrStdout(), devices, cfg.Microphone)
			return nil
		},
	}
}

func printDevices(out io.Writer, devices []audio.DeviceInfo, selected string) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No capture devices found.")
		return
	}
	for _, d := range devices {
		marker := "  "
		if d.Name == selected {
			marker = "* "
		}
		var tags []string
		if audio.IsLoopback(d.Name) {
			tags = append(tags, "system audio")
		}
		if audio.IsBluetooth(d.Name) {
			tags = append(tags, "bluetooth")
		}
		line := marker + d.Name
		if len(tags) > 0 {
			line += " (" + strings.Join(tags, ", ") + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func newDoctorCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run interactive diagnostics for capture, hotkey, clipboard and analysis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(f.configPath)
			if err != nil {
				return err
			}
			if err := applyFlags(&cfg, *f); err != nil {
				return err
			}
			if code := doctor.Run(cfg); code != 0 {
				return errors.New("doctor found problems")
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), fullVersion())
		},
	}
}
