package store

import "time"

// Run directions.
const (
	DirectionCompress   = "compress"
	DirectionUncompress = "uncompress"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run records one compress or uncompress execution
type Run struct {
	ID            int64
	UUID          string
	Direction     string // "compress" or "uncompress"
	Source        string // input directory or archive
	Destination   string // output archive or directory
	Codec         string
	DryRun        bool
	RawOutputDirs int
	FilesIncluded int
	FilesExcluded int
	DirsSkipped   int
	TotalSize     int64
	ArchiveSHA256 string
	Status        string // "running", "completed", "failed"
	ErrorMessage  string
	StartTime     time.Time
	EndTime       time.Time
}

// Exclusion is a file left out of a compress run by policy
type Exclusion struct {
	ID    int64
	RunID int64
	Path  string // relative to the run's input directory
}
