// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	defaultQueueSize = 1000
	writeBatchSize   = 64
	writeTimeout     = 10 * time.Second
)

// Sink persists usage records.
type Sink interface {
	AppendUsage(ctx context.Context, records []UsageRecord) error
}

// Writer persists usage records on a background goroutine. When the queue is
// full records are dropped and counted; the request path never waits on storage.
type Writer struct {
	sink    Sink
	queue   chan UsageRecord
	dropped atomic.Int64
	onDrop  func()

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriter starts a writer with a queue of queueSize records.
func NewWriter(sink Sink, queueSize int) *Writer {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	w := &Writer{sink: sink, queue: make(chan UsageRecord, queueSize)}
	w.wg.Add(1)
	go w.writeWorker()
	return w
}

// OnDrop registers a callback invoked for every dropped or unwritten record.
// Must be called before records are enqueued.
func (w *Writer) OnDrop(fn func()) { w.onDrop = fn }

// Enqueue queues rec without blocking.
func (w *Writer) Enqueue(rec UsageRecord) {
	defer func() {
		// Enqueue after Close; treat as dropped.
		if r := recover(); r != nil {
			w.drop(1)
		}
	}()
	select {
	case w.queue <- rec:
	default:
		w.drop(1)
		log.Warnf("ledger: write queue is full, dropping usage record for %s (queue size: %d)", rec.ProviderID, cap(w.queue))
	}
}

func (w *Writer) drop(n int) {
	w.dropped.Add(int64(n))
	if w.onDrop != nil {
		for i := 0; i < n; i++ {
			w.onDrop()
		}
	}
}

// Dropped returns the number of records that were never persisted.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// writeWorker batches queued records and hands them to the sink.
func (w *Writer) writeWorker() {
	defer w.wg.Done()
	batch := make([]UsageRecord, 0, writeBatchSize)
	for rec := range w.queue {
		batch = append(batch[:0], rec)
	fill:
		for len(batch) < writeBatchSize {
			select {
			case more, ok := <-w.queue:
				if !ok {
					break fill
				}
				batch = append(batch, more)
			default:
				break fill
			}
		}
		w.flush(batch)
	}
}

func (w *Writer) flush(batch []UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := w.sink.AppendUsage(ctx, batch); err != nil {
		w.drop(len(batch))
		log.Errorf("ledger: failed to persist %d usage records: %v", len(batch), err)
	}
}

// Close drains the queue and waits for pending writes.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
	})
	w.wg.Wait()
}
