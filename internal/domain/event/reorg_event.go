package event

import "time"

// Reorg signals that blocks previously accepted by the log syncer were orphaned.
// OrphanedBlockHashes lists every block hash whose events must be retracted.
type Reorg struct {
	ForkBlockNumber     int64     `json:"forkBlockNumber"`
	OrphanedBlockHashes []string  `json:"orphanedBlockHashes"`
	DetectedAt          time.Time `json:"detectedAt"`
}
