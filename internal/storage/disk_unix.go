//go:build unix

package storage

import (
	"fmt"
	"syscall"
)

// DiskUsage reports total, used, and free bytes of the filesystem holding
// the storage directory, for the stats endpoint.
type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// DiskStats returns usage figures for the filesystem containing path.
func DiskStats(path string) (*DiskUsage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	return &DiskUsage{
		Total: total,
		Used:  total - st.Bfree*bsize,
		Free:  free,
	}, nil
}
