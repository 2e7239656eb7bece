// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher reloads the configuration file when it changes on disk and
// hands the new configuration to a reload callback.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
)

const debounceDelay = 150 * time.Millisecond

// Watcher watches one configuration file.
type Watcher struct {
	configPath string
	reload     func(*config.Config)

	mu       sync.Mutex
	cfg      *config.Config
	lastHash string
	fsw      *fsnotify.Watcher
	timer    *time.Timer
	done     chan struct{}
}

// NewWatcher creates a watcher for configPath. reload receives every
// successfully parsed configuration whose content changed.
func NewWatcher(configPath string, reload func(*config.Config)) (*Watcher, error) {
	if configPath == "" {
		return nil, errors.New("watcher: config path is required")
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	return &Watcher{configPath: abs, reload: reload}, nil
}

// SetConfig records the configuration currently in effect.
func (w *Watcher) SetConfig(cfg *config.Config) {
	w.mu.Lock()
	w.cfg = cfg
	if w.lastHash == "" {
		if data, err := os.ReadFile(w.configPath); err == nil {
			w.lastHash = hashContent(data)
		}
	}
	w.mu.Unlock()
}

// Config returns the configuration currently in effect.
func (w *Watcher) Config() *config.Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Start begins watching. The containing directory is watched so that editors
// replacing the file by rename are seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if err = fsw.Add(filepath.Dir(w.configPath)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watcher: watch %s: %w", filepath.Dir(w.configPath), err)
	}

	w.mu.Lock()
	w.fsw = fsw
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go w.run(ctx, fsw, done)
	log.Debugf("watching configuration file %s", w.configPath)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

// schedule coalesces bursts of events into one reload.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, w.reloadConfig)
}

// reloadConfig parses the file and invokes the callback when its content changed.
// A file that fails to parse leaves the previous configuration in effect.
func (w *Watcher) reloadConfig() {
	data, err := os.ReadFile(w.configPath)
	if err != nil {
		log.Warnf("config reload: cannot read %s: %v", w.configPath, err)
		return
	}
	hash := hashContent(data)

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		log.Debug("config reload: content unchanged")
		return
	}
	prev := w.cfg
	w.mu.Unlock()

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload: keeping previous configuration: %v", err)
		return
	}

	w.mu.Lock()
	w.lastHash = hash
	w.cfg = cfg
	w.mu.Unlock()

	if prev != nil {
		for _, change := range DiffProviders(prev.Providers, cfg.Providers) {
			log.Infof("config reload: %s", change)
		}
	}
	if w.reload != nil {
		w.reload(cfg)
	}
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	fsw, done := w.fsw, w.done
	w.fsw = nil
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	err := fsw.Close()
	<-done
	return err
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
