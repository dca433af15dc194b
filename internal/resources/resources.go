// Package resources rounds scheduling requirements so the workflow engine
// sees few distinct requirement tuples.
package resources

import "github.com/ShayCichocki/cactuscall/pkg/models"

const (
	// MiB is one mebibyte in bytes.
	MiB int64 = 1024 * 1024

	// DefaultGranularity is the rounding step for memory and disk.
	DefaultGranularity = 100 * MiB

	// DefaultDiskSurcharge is added to every declared disk requirement to
	// leave room for materializing a sandbox image on the worker.
	DefaultDiskSurcharge = 1500 * MiB
)

// Policy describes how requirements are rounded.
type Policy struct {
	// Granularity is the rounding step in bytes. Zero or negative disables
	// rounding.
	Granularity int64
	// DiskSurcharge is added to any non-zero disk requirement after rounding.
	DiskSurcharge int64
}

// DefaultPolicy returns the rounding policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Granularity:   DefaultGranularity,
		DiskSurcharge: DefaultDiskSurcharge,
	}
}

// RoundUp rounds bytes up to the next multiple of granularity. Exact
// multiples, including zero, are returned unchanged.
func RoundUp(bytes, granularity int64) int64 {
	if granularity <= 0 || bytes%granularity == 0 {
		return bytes
	}
	if bytes < 0 {
		return bytes / granularity * granularity
	}
	return (bytes/granularity + 1) * granularity
}

// Apply returns req with memory and disk rounded. Disk receives the
// surcharge only when it was declared.
func (p Policy) Apply(req models.Requirements) models.Requirements {
	req.Memory = RoundUp(req.Memory, p.Granularity)
	if req.Disk > 0 {
		req.Disk = p.DiskSurcharge + RoundUp(req.Disk, p.Granularity)
	}
	return req
}
