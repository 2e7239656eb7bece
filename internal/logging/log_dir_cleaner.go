// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const logDirCleanInterval = 10 * time.Minute

var cleanerStop chan struct{}

// configureLogDirCleanerLocked (re)starts the background size enforcer. writerMu must be held.
func configureLogDirCleanerLocked(logDir string, maxTotalSizeMB int, protectedPath string) {
	stopLogDirCleanerLocked()
	if maxTotalSizeMB <= 0 {
		return
	}
	stop := make(chan struct{})
	cleanerStop = stop
	maxBytes := int64(maxTotalSizeMB) * 1024 * 1024

	go func() {
		ticker := time.NewTicker(logDirCleanInterval)
		defer ticker.Stop()
		enforceLogDirSize(logDir, maxBytes, protectedPath)
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				enforceLogDirSize(logDir, maxBytes, protectedPath)
			}
		}
	}()
}

func stopLogDirCleanerLocked() {
	if cleanerStop != nil {
		close(cleanerStop)
		cleanerStop = nil
	}
}

// enforceLogDirSize deletes the oldest *.log files until the directory fits maxBytes.
// The active log file is never removed.
func enforceLogDirSize(logDir string, maxBytes int64, protectedPath string) int {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return 0
	}

	type logFile struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []logFile
	var total int64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, errInfo := e.Info()
		if errInfo != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(logDir, e.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	for _, f := range files {
		if total <= maxBytes {
			break
		}
		if f.path == protectedPath {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.Debugf("logging: failed to remove old log %s: %v", f.path, errRemove)
			continue
		}
		total -= f.size
		removed++
	}
	return removed
}
