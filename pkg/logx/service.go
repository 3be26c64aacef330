package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultFile is used when the file sink is enabled without a path.
const DefaultFile = "resources/gcontrib.log"

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the process sinks: a console writer on stderr and an
// optional JSON file. With no sink enabled everything is discarded.
type Service struct {
	mu   sync.Mutex
	cfg  Config
	file *os.File

	cur atomic.Pointer[zerolog.Logger]
}

// NewService applies cfg and returns the service and a live root logger.
// A file sink that cannot be opened is reported on stderr.
func NewService(cfg Config) (*Service, Logger) {
	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, Logger{src: s}
}

func (s *Service) zl() zerolog.Logger {
	if p := s.cur.Load(); p != nil {
		return *p
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Config returns the last applied config.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply rebuilds the sinks and swaps them in for every derived Logger.
// If the file cannot be opened the other sinks are still applied and the
// error is returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		writers []io.Writer
		file    *os.File
		err     error
	)
	if cfg.Console {
		writers = append(writers, consoleWriter(os.Stderr))
	}
	if cfg.File.Enabled {
		if file, err = openLogFile(cfg.File.Path); err == nil {
			writers = append(writers, zerolog.SyncWriter(file))
		}
	}

	zl := zerolog.Nop()
	if len(writers) > 0 {
		zl = build(zerolog.MultiLevelWriter(writers...), cfg.Level)
	}
	s.cur.Store(&zl)

	old := s.file
	s.file, s.cfg = file, cfg
	if old != nil {
		_ = old.Close()
	}
	return err
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nop := zerolog.Nop()
	s.cur.Store(&nop)
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("log file: %w", err)
	}
	return f, nil
}

// consoleWriter renders key=value lines; the caller field is already short.
func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}
