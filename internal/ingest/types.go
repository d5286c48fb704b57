package ingest

import "github.com/bher20/meterlog/internal/storage"

// Entry kinds, mirrored from storage for extraction-level entries.
const (
	EntryMeterRead   = storage.EntryMeterRead
	EntryBilledUsage = storage.EntryBilledUsage
)
