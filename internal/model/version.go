package model

import "time"

// Snapshot is an immutable reference to the ordered intent set at a
// point in time. SnapshotID is either a monotone integer sequence
// (string-encoded) or a content hash of the ordered intent-id sequence,
// per the deterministic-id requirement.
type Snapshot struct {
	SnapshotID string    `json:"snapshot_id"`
	Parents    []string  `json:"parents"`
	IntentIDs  []string  `json:"intent_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Branch is a named, mutable pointer into the snapshot DAG.
type Branch struct {
	Name       string `json:"name"`
	SnapshotID string `json:"snapshot_id"`
}

// MergeRecord is one entry of the replay log: the ordered inputs that
// produced a merge snapshot. Replaying the log from the same policy
// parameters must reproduce BaseSnapshot/ResultSnapshot byte-for-byte.
type MergeRecord struct {
	BaseSnapshot     string    `json:"base_snapshot"`
	IncomingSnapshot string    `json:"incoming_snapshot"`
	ResultSnapshot   string    `json:"result_snapshot"`
	AppliedIntentIDs []string  `json:"applied_intent_ids"`
	At               time.Time `json:"at"`
}
