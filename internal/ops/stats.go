// Package ops provides the structured logging and stats-document shapes
// the capture session reports alongside each transaction.
package ops

import (
	"fmt"
	"time"

	"github.com/estuary/capture-core/internal/protocol"
	"github.com/nsf/jsondiff"
	"github.com/sirupsen/logrus"
)

// ShardRef identifies the task shard a capture session is running as, for
// inclusion in stats and log documents.
type ShardRef struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// BindingCounters accumulates the incoming and outgoing (docs, bytes) for a
// single binding index across a transaction.
type BindingCounters struct {
	Incoming protocol.DocsAndBytes
	Outgoing protocol.DocsAndBytes
}

// BuildStats folds per-binding-index counters down to per-collection-name
// totals: collections, not binding indices, are the externally meaningful
// unit — multiple bindings may target one collection, e.g. under
// different resource paths of the same source.
func BuildStats(collectionNames []string, perBinding map[int]BindingCounters, opened time.Time) protocol.Stats {
	var out = protocol.Stats{
		Capture:          make(map[string]protocol.BindingStats, len(perBinding)),
		TxnOpenedSeconds: time.Since(opened).Seconds(),
	}
	for idx, counters := range perBinding {
		if idx < 0 || idx >= len(collectionNames) {
			continue
		}
		var name = collectionNames[idx]
		var entry = out.Capture[name]
		entry.Incoming = entry.Incoming.Add(counters.Incoming)
		entry.Outgoing = entry.Outgoing.Add(counters.Outgoing)
		out.Capture[name] = entry
	}
	return out
}

// Logger wraps a logrus.FieldLogger scoped to a shard, matching the
// log.WithFields(...) idiom used throughout go/runtime/task.go and
// go/runtime/stats.go.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger returns a Logger reporting as the given shard.
func NewLogger(shard ShardRef) *Logger {
	return &Logger{entry: logrus.WithFields(logrus.Fields{
		"shard": shard.Name,
		"kind":  shard.Kind,
	})}
}

// Transition logs a state-machine transition at debug level.
func (l *Logger) Transition(from, to string) {
	l.entry.WithFields(logrus.Fields{"from": from, "to": to}).Debug("session state transition")
}

// SchemaUpdated logs a widened, inferred schema at info level. When
// prevSchemaJSON is non-empty and debug logging is enabled, a human-
// readable diff against the previously logged schema is attached.
func (l *Logger) SchemaUpdated(binding int, collectionName string, prevSchemaJSON, schemaJSON []byte) {
	var fields = logrus.Fields{
		"binding":        binding,
		"collectionName": collectionName,
		"schema":         string(schemaJSON),
	}
	if len(prevSchemaJSON) > 0 && l.entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		var _, diffText = jsondiff.Compare(prevSchemaJSON, schemaJSON, jsondiff.DefaultConsoleOptions())
		fields["schemaDiff"] = diffText
	}
	l.entry.WithFields(fields).Info("inferred schema updated")
}

// Committed logs a durable commit at info level, tagged with a generated
// correlation id so operators can trace one commit's log lines across
// StartCommit and any downstream Acknowledge.
func (l *Logger) Committed(commitID string, checkpoints uint32) {
	l.entry.WithFields(logrus.Fields{
		"commitId":    commitID,
		"checkpoints": checkpoints,
	}).Info("commit durable")
}

// Failed logs session termination due to a fatal error.
func (l *Logger) Failed(err error) {
	l.entry.WithError(err).Error("capture session failed")
}

// StoreWrite logs a persisted connector-state update at debug level.
func (l *Logger) StoreWrite(updatedJSON []byte) {
	l.entry.WithField("state", string(updatedJSON)).Debug("persisting updated connector state")
}

func (l *Logger) String() string {
	return fmt.Sprintf("ops.Logger(%v)", l.entry.Data)
}
