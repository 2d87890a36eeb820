// Size-based log file rotation for long running hub daemons
//
// Rotated files are numbered: hub.log.1 is the newest backup and
// hub.log.N the oldest. Backups past MaxBackups are removed.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// Filename is the path to the active log file.
	Filename string

	// MaxSizeKB is the size in kilobytes that triggers rotation.
	// Default is 4096.
	MaxSizeKB int

	// MaxBackups is the number of rotated files to keep. Default is 3.
	MaxBackups int
}

func (c RotationConfig) withDefaults() RotationConfig {
	if c.MaxSizeKB <= 0 {
		c.MaxSizeKB = 4096
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	return c
}

// RotatingFileWriter implements io.Writer with automatic file rotation.
type RotatingFileWriter struct {
	mu   sync.Mutex
	cfg  RotationConfig
	file *os.File
	size int64
}

// NewRotatingFileWriter opens (or creates) the log file for appending.
func NewRotatingFileWriter(config RotationConfig) (*RotatingFileWriter, error) {
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	w := &RotatingFileWriter{cfg: config.withDefaults()}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingFileWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.Filename), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(w.cfg.Filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

func (w *RotatingFileWriter) limit() int64 {
	return int64(w.cfg.MaxSizeKB) * 1024
}

// Write implements io.Writer.
func (w *RotatingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limit() {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// backupName returns the path of the n-th backup.
func (w *RotatingFileWriter) backupName(n int) string {
	return w.cfg.Filename + "." + strconv.Itoa(n)
}

// rotate shifts backups up by one and starts a fresh file.
func (w *RotatingFileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close current file: %w", err)
	}
	w.file = nil

	os.Remove(w.backupName(w.cfg.MaxBackups))
	for i := w.cfg.MaxBackups - 1; i >= 1; i-- {
		src := w.backupName(i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, w.backupName(i+1)); err != nil {
				return fmt.Errorf("shift backup %d: %w", i, err)
			}
		}
	}
	if err := os.Rename(w.cfg.Filename, w.backupName(1)); err != nil {
		w.open()
		return fmt.Errorf("rename log file: %w", err)
	}
	return w.open()
}

// Backups lists the rotated files currently on disk, newest first.
func (w *RotatingFileWriter) Backups() []string {
	dir := filepath.Dir(w.cfg.Filename)
	base := filepath.Base(w.cfg.Filename)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	found := make(map[int]string)
	for _, e := range entries {
		if n, ok := backupIndex(e.Name(), base); ok {
			found[n] = filepath.Join(dir, e.Name())
		}
	}
	var out []string
	for i := 1; i <= w.cfg.MaxBackups; i++ {
		if p, ok := found[i]; ok {
			out = append(out, p)
		}
	}
	return out
}

// backupIndex parses "<base>.<n>" and reports n.
func backupIndex(name, base string) (int, bool) {
	if !strings.HasPrefix(name, base+".") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, base+"."))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Close closes the rotating file writer.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// CurrentSize returns the size of the active file.
func (w *RotatingFileWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// NewFileLogger creates a logger writing to a rotating file and,
// when console is set, also to stderr.
func NewFileLogger(prefix string, config RotationConfig, console bool) (*Logger, *RotatingFileWriter, error) {
	fw, err := NewRotatingFileWriter(config)
	if err != nil {
		return nil, nil, err
	}
	var out io.Writer = fw
	if console {
		out = io.MultiWriter(os.Stderr, fw)
	}
	logger := New(prefix)
	logger.SetWriter(out)
	logger.SetColorize(false)
	return logger, fw, nil
}
