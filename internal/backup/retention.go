package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PruneRetention removes archives beyond the keep most recent ones and
// returns the deleted paths. Archive names embed a zero padded timestamp, so
// a descending name sort is newest first.
func PruneRetention(backupDir, prefix string, keep int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(backupDir, prefix+"_*.tar.gz"))
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	if len(matches) <= keep {
		return nil, nil
	}

	var removed []string
	for _, path := range matches[keep:] {
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
