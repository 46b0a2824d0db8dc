// Package wal consumes write-ahead-log records during recovery. The log
// itself is an out-of-scope external collaborator; this consumer only
// implements the catalog-facing half of recovery: rewinding each OID
// allocator to the max of its current value and any OID observed in the
// log, and reporting the recovery watermark.
package wal

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/relcore/enginecore/internal/oid"
)

// Record is one decoded log record's catalog-relevant envelope: the OIDs a
// committed operation allocated, tagged by kind, plus the commit
// timestamp.
type Record struct {
	CommitTS uint64      `json:"commit_ts"`
	Database oid.OID     `json:"database"`
	OIDs     []RecordOID `json:"oids"`
}

// RecordOID is one observed allocation.
type RecordOID struct {
	Kind string  `json:"kind"`
	OID  oid.OID `json:"oid"`
}

// Allocators resolves an allocator by the kind string a log record
// carries; the catalog implements it per database.
type Allocators interface {
	AllocatorFor(kind string) (*oid.Allocator, bool)
}

// Consumer replays log records against a database's OID allocators.
type Consumer struct {
	Alloc Allocators
	Log   *zap.Logger

	records   int
	watermark uint64
}

// OnMessage decodes one log line and advances every allocator named in
// it, rewinding each counter to the max of its current value and the
// observed OID.
func (c *Consumer) OnMessage(line []byte) {
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		c.Log.Warn("wal_decode_error", zap.Error(err))
		return
	}

	reclog := c.Log.With(
		zap.Uint64("commit_ts", rec.CommitTS),
		zap.Uint32("database", uint32(rec.Database)),
	)

	for _, ro := range rec.OIDs {
		alloc, ok := c.Alloc.AllocatorFor(ro.Kind)
		if !ok {
			reclog.Warn("wal_unknown_oid_kind", zap.String("kind", ro.Kind))
			continue
		}
		alloc.ObserveMax(ro.OID)
		reclog.Debug("wal_observe_oid",
			zap.String("kind", ro.Kind),
			zap.Uint32("oid", uint32(ro.OID)),
		)
	}

	c.records++
	if rec.CommitTS > c.watermark {
		c.watermark = rec.CommitTS
	}
}

// Watermark reports the highest commit timestamp replayed so far. The
// transaction timestamp clock is not advanced to it; cmd/server only logs
// it.
func (c *Consumer) Watermark() uint64 { return c.watermark }

// Records reports how many log records were replayed.
func (c *Consumer) Records() int { return c.records }
