package download

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Notifier receives per-item lifecycle and progress events.
type Notifier interface {
	NotifyStarted(itemID string)
	NotifyProgress(itemID string, progress int, bytesProcessed, totalBytes int64)
	NotifyCompleted(itemID string)
	NotifyFailed(itemID string, err error)
}

type nopNotifier struct{}

func (nopNotifier) NotifyStarted(string) {}
func (nopNotifier) NotifyProgress(string, int, int64, int64) {}
func (nopNotifier) NotifyCompleted(string) {}
func (nopNotifier) NotifyFailed(string, error) {}

// DownloadStats tracks transfer statistics for one item
type DownloadStats struct {
	ItemID         string
	StartTime      time.Time
	LastUpdate     time.Time
	BytesProcessed int64
	TotalBytes     int64
	Speed          float64 // bytes per second
	ETA            int     // seconds remaining
}

// statsTracker derives speed and ETA from cumulative progress reports.
type statsTracker struct {
	mu    sync.Mutex
	stats map[string]*DownloadStats
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: make(map[string]*DownloadStats)}
}

func (st *statsTracker) start(itemID string) {
	now := time.Now()
	st.mu.Lock()
	st.stats[itemID] = &DownloadStats{ItemID: itemID, StartTime: now, LastUpdate: now}
	st.mu.Unlock()
}

func (st *statsTracker) update(itemID string, bytesProcessed, totalBytes int64) DownloadStats {
	now := time.Now()

	st.mu.Lock()
	defer st.mu.Unlock()

	stats, exists := st.stats[itemID]
	if !exists {
		stats = &DownloadStats{ItemID: itemID, StartTime: now, LastUpdate: now}
		st.stats[itemID] = stats
	}

	elapsed := now.Sub(stats.LastUpdate).Seconds()
	if elapsed > 0 {
		stats.Speed = float64(bytesProcessed-stats.BytesProcessed) / elapsed
	}
	stats.BytesProcessed = bytesProcessed
	stats.TotalBytes = totalBytes
	stats.LastUpdate = now

	if stats.Speed > 0 && totalBytes > 0 {
		stats.ETA = int(float64(totalBytes-bytesProcessed) / stats.Speed)
	}
	return *stats
}

func (st *statsTracker) finish(itemID string) {
	st.mu.Lock()
	delete(st.stats, itemID)
	st.mu.Unlock()
}

// LogNotifier writes lifecycle events to a zap logger. Progress is logged at
// debug level.
type LogNotifier struct {
	logger *zap.Logger
	stats  *statsTracker
}

// NewLogNotifier creates a notifier backed by logger
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger, stats: newStatsTracker()}
}

func (ln *LogNotifier) NotifyStarted(itemID string) {
	ln.stats.start(itemID)
	ln.logger.Info("Item started", zap.String("item_id", itemID))
}

func (ln *LogNotifier) NotifyProgress(itemID string, progress int, bytesProcessed, totalBytes int64) {
	stats := ln.stats.update(itemID, bytesProcessed, totalBytes)
	ln.logger.Debug("Item progress",
		zap.String("item_id", itemID),
		zap.Int("progress", progress),
		zap.Int64("bytes", bytesProcessed),
		zap.Int64("total", totalBytes),
		zap.String("speed", FormatSpeed(stats.Speed)),
		zap.String("eta", FormatETA(stats.ETA)),
	)
}

func (ln *LogNotifier) NotifyCompleted(itemID string) {
	ln.stats.finish(itemID)
	ln.logger.Info("Item completed", zap.String("item_id", itemID))
}

func (ln *LogNotifier) NotifyFailed(itemID string, err error) {
	ln.stats.finish(itemID)
	ln.logger.Warn("Item failed", zap.String("item_id", itemID), zap.Error(err))
}

// FormatSpeed formats speed in human-readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond < 1024 {
		return "< 1 KB/s"
	} else if bytesPerSecond < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSecond/1024)
	} else {
		return fmt.Sprintf("%.1f MB/s", bytesPerSecond/(1024*1024))
	}
}

// FormatETA formats ETA in human-readable format
func FormatETA(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	} else if seconds < 3600 {
		minutes := seconds / 60
		secs := seconds % 60
		return fmt.Sprintf("%dm %ds", minutes, secs)
	} else {
		hours := seconds / 3600
		minutes := (seconds % 3600) / 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
}

// CallbackNotifier implements the Notifier interface using direct callbacks.
// Callbacks run on the reporting goroutine and must not block; a panicking
// callback is recovered and logged.
type CallbackNotifier struct {
	progressCallback func(itemID string, progress int, speed string, eta string)
	statusCallback   func(itemID string, status string, errorMsg string)
	mu               sync.RWMutex
	stats            *statsTracker
	logger           *zap.Logger
}

// NewCallbackNotifier creates a new callback-based notifier
func NewCallbackNotifier(logger *zap.Logger) *CallbackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallbackNotifier{stats: newStatsTracker(), logger: logger}
}

// SetProgressCallback sets the callback function for progress updates
func (cn *CallbackNotifier) SetProgressCallback(callback func(itemID string, progress int, speed string, eta string)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.progressCallback = callback
}

// SetStatusCallback sets the callback function for status updates
func (cn *CallbackNotifier) SetStatusCallback(callback func(itemID string, status string, errorMsg string)) {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	cn.statusCallback = callback
}

func (cn *CallbackNotifier) NotifyProgress(itemID string, progress int, bytesProcessed, totalBytes int64) {
	stats := cn.stats.update(itemID, bytesProcessed, totalBytes)

	cn.mu.RLock()
	callback := cn.progressCallback
	cn.mu.RUnlock()

	if callback != nil {
		cn.invoke("progress", func() {
			callback(itemID, progress, FormatSpeed(stats.Speed), FormatETA(stats.ETA))
		})
	}
}

func (cn *CallbackNotifier) NotifyStarted(itemID string) {
	cn.stats.start(itemID)
	cn.status(itemID, "started", "")
}

func (cn *CallbackNotifier) NotifyCompleted(itemID string) {
	cn.stats.finish(itemID)
	cn.status(itemID, "completed", "")
}

func (cn *CallbackNotifier) NotifyFailed(itemID string, err error) {
	cn.stats.finish(itemID)
	errorMsg := ""
	if err != nil {
		errorMsg = err.Error()
	}
	cn.status(itemID, "failed", errorMsg)
}

func (cn *CallbackNotifier) status(itemID, status, errorMsg string) {
	cn.mu.RLock()
	callback := cn.statusCallback
	cn.mu.RUnlock()

	if callback != nil {
		cn.invoke("status", func() { callback(itemID, status, errorMsg) })
	}
}

func (cn *CallbackNotifier) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			cn.logger.Error("Notifier callback panicked", zap.String("callback", name), zap.Any("panic", r))
		}
	}()
	fn()
}
