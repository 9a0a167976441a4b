package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JobID identifies a replay job. IDs are assigned monotonically and are
// never reused within one process, across batches.
type JobID int64

// String returns the canonical string representation
func (id JobID) String() string {
	return fmt.Sprintf("J%04d", int64(id))
}

// ReplayJob is one input/output pair to convert
type ReplayJob struct {
	ID         JobID
	BatchID    string
	InputPath  string
	OutputPath string
}

// Name returns the input file name without its directory
func (j ReplayJob) Name() string {
	return filepath.Base(j.InputPath)
}

// OutputPathFor derives the output artifact path for an input file: same
// stem, output extension, flat in outputDir.
func OutputPathFor(inputPath, outputDir, outputExt string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+outputExt)
}

// IDSequence hands out JobIDs. It is owned by the control goroutine.
type IDSequence struct {
	last JobID
}

// Next returns the next unused JobID
func (s *IDSequence) Next() JobID {
	s.last++
	return s.last
}
