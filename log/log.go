package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	recordingsFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

const (
	diagFileName       = "diagnostics_log.txt"
	recordingsFileName = "recordings_log.txt"
)

// RecordingInfo is what gets logged when a recording is finalized.
type RecordingInfo struct {
	ID           string
	Name         string
	MIMEType     string
	DurationS    int
	SizeKB       float64
	RawSizeKB    float64
	EncodeTimeMs float64
	Chunks       int
}

type AnalysisInfo struct {
	Provider    string
	RecordingID string
	TTFBMs      float64
	TotalTimeMs float64
	ConnReused  bool
	TLSProtocol string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: MEETREC_LOG_PATH environment variable
	if envPath := os.Getenv("MEETREC_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagFile, err = os.OpenFile(filepath.Join(dir, diagFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	recordingsFile, err = os.OpenFile(filepath.Join(dir, recordingsFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if recordingsFile != nil {
		recordingsFile.Close()
		recordingsFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(system, microphone bool, format string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Bool("system", system).
		Bool("microphone", microphone).
		Str("format", format).
		Msg("session_start")
}

func SessionEnd(count int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Int("recordings", count).
		Msg("session_end")
}

// RecordingSaved logs the structured event and appends one tab-separated
// line to the recordings log.
func RecordingSaved(r RecordingInfo) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("id", r.ID).
		Str("name", r.Name).
		Str("mime", r.MIMEType).
		Int("duration_s", r.DurationS).
		Float64("size_kb", r.SizeKB).
		Float64("raw_kb", r.RawSizeKB).
		Float64("encode_ms", r.EncodeTimeMs).
		Int("chunks", r.Chunks).
		Msg("recording_saved")

	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%ds\t%.1fKB\n",
		time.Now().Format("2006-01-02 15:04:05"), pid, r.ID, r.Name, r.DurationS, r.SizeKB)
	recordingsFile.WriteString(line)
}

func Analysis(a AnalysisInfo, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	connStatus := "new"
	if a.ConnReused {
		connStatus = "reused"
	}
	ev = ev.Str("provider", a.Provider).
		Str("id", a.RecordingID).
		Str("conn", connStatus)
	if a.TLSProtocol != "" {
		ev = ev.Str("tls_proto", a.TLSProtocol)
	}
	ev.Float64("ttfb_ms", a.TTFBMs).
		Float64("total_ms", a.TotalTimeMs).
		Msg("analysis")
}
