// Package replay finds replay files that are ready for conversion and
// decides, per file, whether an existing output makes the job skippable.
package replay
