package network

import (
	"io"
	"sync/atomic"
	"time"
)

// progressFlushTimeout bounds how long Close waits for the consumer to take
// the final count.
var progressFlushTimeout = 250 * time.Millisecond

// ProgressFunc receives the cumulative bytes written and the expected total
// (-1 when unknown).
type ProgressFunc func(bytesTransferred, bytesTotal int64)

// progressReporter decouples transfer goroutines from a possibly slow
// callback. Add never blocks: when the consumer is still busy with an earlier
// update the signal is dropped and the next delivery carries the newest count.
type progressReporter struct {
	fn          ProgressFunc
	total       int64
	transferred atomic.Int64
	signal      chan struct{}
	done        chan struct{}
}

func newProgressReporter(fn ProgressFunc, total int64) *progressReporter {
	if fn == nil {
		return nil
	}
	p := &progressReporter{
		fn:     fn,
		total:  total,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *progressReporter) run() {
	defer close(p.done)
	for range p.signal {
		p.fn(p.transferred.Load(), p.total)
	}
	// Final count after the last writer finished.
	p.fn(p.transferred.Load(), p.total)
}

// Add records n more bytes.
func (p *progressReporter) Add(n int64) {
	if p == nil || n == 0 {
		return
	}
	p.transferred.Add(n)
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Close queues the final count and waits up to progressFlushTimeout for
// the consumer to take it. A consumer still busy after that receives the
// final count later, on its own goroutine. Close must only be called once
// all writers have returned.
func (p *progressReporter) Close() {
	if p == nil {
		return
	}
	close(p.signal)
	timer := time.NewTimer(progressFlushTimeout)
	defer timer.Stop()
	select {
	case <-p.done:
	case <-timer.C:
	}
}

// countingWriter forwards writes and reports their size. With reported set,
// only bytes beyond that high-water mark are reported, so a retried attempt
// rewriting the same range does not count twice or move progress back.
type countingWriter struct {
	w        io.Writer
	written  int64
	reported *int64
	progress *progressReporter
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	if n > 0 {
		c.written += int64(n)
		switch {
		case c.reported == nil:
			c.progress.Add(int64(n))
		case c.written > *c.reported:
			c.progress.Add(c.written - *c.reported)
			*c.reported = c.written
		}
	}
	return n, err
}
