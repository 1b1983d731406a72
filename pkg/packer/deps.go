package packer

import (
	"context"
	"time"
)

// ArchiveEvent describes a sealed and registered container.
type ArchiveEvent struct {
	Group string `json:"group"`
	// ID is the pnfsid of the container file.
	ID    string `json:"pnfsid"`
	Path  string `json:"path"`
	Files int    `json:"files"`
	Size  uint64 `json:"size"`
}

// Notifier is informed about every registered container.
type Notifier interface {
	Notify(ctx context.Context, ev ArchiveEvent) error
}

// Metrics collects packer statistics.
type Metrics interface {
	AddPackedFiles(group string, files int, size uint64)
	IncContainers(group string, outcome string)
	IncDroppedRecords(group string)
	AddPrefetched(group string, opened, failed uint64)
	ObserveRun(group string, mode Mode, d time.Duration)
}

// Container outcomes reported to Metrics.
const (
	OutcomeArchived  = "archived"
	OutcomeRejected  = "rejected"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

type noopMetrics struct{}

func (noopMetrics) AddPackedFiles(string, int, uint64)     {}
func (noopMetrics) IncContainers(string, string)           {}
func (noopMetrics) IncDroppedRecords(string)               {}
func (noopMetrics) AddPrefetched(string, uint64, uint64)   {}
func (noopMetrics) ObserveRun(string, Mode, time.Duration) {}
