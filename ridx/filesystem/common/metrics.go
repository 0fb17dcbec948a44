package common

import (
	"sync"
	"time"
)

// PerformanceMetrics defines the interface for performance tracking
type PerformanceMetrics interface {
	GetMetrics() map[string]interface{}
}

// BaseMetrics provides common fields used across different metrics types
type BaseMetrics struct {
	TotalOperations int64
	SuccessfulOps   int64
	FailedOps       int64
	LastOperation   time.Time
	Mu              sync.RWMutex
}

// UpdateBaseMetrics updates common metrics fields
func (bm *BaseMetrics) UpdateBaseMetrics(success bool) {
	bm.Mu.Lock()
	defer bm.Mu.Unlock()

	bm.TotalOperations++
	if success {
		bm.SuccessfulOps++
	} else {
		bm.FailedOps++
	}
	bm.LastOperation = time.Now()
}

// GetBaseMetrics returns the common metrics as a map
func (bm *BaseMetrics) GetBaseMetrics() map[string]interface{} {
	bm.Mu.RLock()
	defer bm.Mu.RUnlock()

	return map[string]interface{}{
		"total_operations": bm.TotalOperations,
		"successful_ops":   bm.SuccessfulOps,
		"failed_ops":       bm.FailedOps,
		"last_operation":   bm.LastOperation,
	}
}

// CrawlMetrics tracks crawl throughput. A crawl counts as successful when it
// finished without cancellation.
type CrawlMetrics struct {
	BaseMetrics
	FilesVisited  int64
	FilesChanged  int64
	FilesDeleted  int64
	FoldersWalked int64
	AverageTime   time.Duration
}

// Record adds the outcome of one crawl
func (cm *CrawlMetrics) Record(start time.Time, finished bool, visited, changed, deleted, folders int) {
	cm.UpdateBaseMetrics(finished)

	cm.Mu.Lock()
	defer cm.Mu.Unlock()

	cm.FilesVisited += int64(visited)
	cm.FilesChanged += int64(changed)
	cm.FilesDeleted += int64(deleted)
	cm.FoldersWalked += int64(folders)

	duration := time.Since(start)
	if cm.TotalOperations == 1 {
		cm.AverageTime = duration
	} else {
		cm.AverageTime = (cm.AverageTime*time.Duration(cm.TotalOperations-1) + duration) / time.Duration(cm.TotalOperations)
	}
}

// GetMetrics returns crawl metrics as a map
func (cm *CrawlMetrics) GetMetrics() map[string]interface{} {
	metrics := cm.GetBaseMetrics()
	cm.Mu.RLock()
	defer cm.Mu.RUnlock()

	metrics["files_visited"] = cm.FilesVisited
	metrics["files_changed"] = cm.FilesChanged
	metrics["files_deleted"] = cm.FilesDeleted
	metrics["folders_walked"] = cm.FoldersWalked
	metrics["average_time"] = cm.AverageTime
	return metrics
}

// PoolMetrics tracks binary work pool executions
type PoolMetrics struct {
	BaseMetrics
	ConcurrentRuns int64
	SequentialRuns int64
	RootsIndexed   int64
}

// Record adds the outcome of one Execute call
func (pm *PoolMetrics) Record(concurrent, allSucceeded bool, indexed int) {
	pm.UpdateBaseMetrics(allSucceeded)

	pm.Mu.Lock()
	defer pm.Mu.Unlock()
	if concurrent {
		pm.ConcurrentRuns++
	} else {
		pm.SequentialRuns++
	}
	pm.RootsIndexed += int64(indexed)
}

// GetMetrics returns pool metrics as a map
func (pm *PoolMetrics) GetMetrics() map[string]interface{} {
	metrics := pm.GetBaseMetrics()
	pm.Mu.RLock()
	defer pm.Mu.RUnlock()

	metrics["concurrent_runs"] = pm.ConcurrentRuns
	metrics["sequential_runs"] = pm.SequentialRuns
	metrics["roots_indexed"] = pm.RootsIndexed
	return metrics
}
