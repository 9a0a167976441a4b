package replay

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultMinBytes is the size a replay must exceed to be considered fully
// downloaded.
const DefaultMinBytes = 1_000_000

// FilterOptions controls which files FindReplays accepts
type FilterOptions struct {
	InputExt string // e.g. ".dem", matched case-insensitively
	MinBytes int64
}

// FindReplays lists replay files directly inside dir whose size strictly
// exceeds opts.MinBytes. Smaller files are usually downloads still in
// progress; each one is logged and left out. The result is sorted and free
// of duplicates.
func FindReplays(dir string, opts FilterOptions, logger *slog.Logger) ([]string, error) {
	if opts.InputExt == "" {
		opts.InputExt = ".dem"
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirNotReadable, dir, err)
	}

	seen := make(map[string]struct{}, len(entries))
	var replays []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), opts.InputExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			// Deleted between ReadDir and Info.
			logger.Debug("replay vanished during scan", "file", entry.Name(), "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if info.Size() <= opts.MinBytes {
			logger.Info("replay skipped, download may be incomplete",
				"file", entry.Name(),
				"size", humanize.Bytes(uint64(info.Size())),
				"min", humanize.Bytes(uint64(opts.MinBytes)))
			continue
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		replays = append(replays, path)
	}

	sort.Strings(replays)
	return replays, nil
}
