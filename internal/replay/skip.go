package replay

import "os"

// Decision is the outcome of the skip policy for one job
type Decision int

const (
	Proceed Decision = iota
	Skip
)

func (d Decision) String() string {
	if d == Skip {
		return "skip"
	}
	return "proceed"
}

// Decide returns Skip when the output already exists and the user has not
// asked to reprocess. Nothing else is considered.
func Decide(outputExists, reprocess bool) Decision {
	if outputExists && !reprocess {
		return Skip
	}
	return Proceed
}

// OutputExists reports whether anything is present at path. A zero-byte or
// truncated output still counts as existing.
func OutputExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
