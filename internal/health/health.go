// Package health classifies stored page content by how close its blob is
// to the end of its storage period.
package health

import (
	"context"
	"fmt"
	"math"
	"sort"

	"Press3/internal/logger"
	"Press3/internal/registry"
)

// DefaultThreshold is the number of remaining epochs at or below which a blob is Expiring.
const DefaultThreshold = 2

// Status is the health class of one blob.
type Status int

const (
	// Unknown means the expiry could not be resolved.
	Unknown Status = iota

	// Healthy blobs have more than the threshold epochs left.
	Healthy

	// Expiring blobs have between zero and the threshold epochs left.
	Expiring

	// Expired blobs are past their end epoch.
	Expired
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Expiring:
		return "expiring"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON and YAML output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Record is the health of one page's blob.
type Record struct {
	Path            string  `json:"path"`
	ContentRef      string  `json:"contentRef"`
	CurrentEpoch    uint64  `json:"currentEpoch"`
	EndEpoch        *uint64 `json:"endEpoch,omitempty"`
	EpochsRemaining *int64  `json:"epochsRemaining,omitempty"`
	Status          Status  `json:"status"`
}

// Classify derives the health of a blob from the current and end epochs.
// A nil end epoch classifies as Unknown.
func Classify(path, ref string, current uint64, end *uint64, threshold int64) Record {
	rec := Record{Path: path, ContentRef: ref, CurrentEpoch: current}

	if end == nil {
		rec.Status = Unknown
		return rec
	}

	endCopy := *end
	remaining := epochDiff(endCopy, current)

	rec.EndEpoch = &endCopy
	rec.EpochsRemaining = &remaining

	switch {
	case remaining < 0:
		rec.Status = Expired
	case remaining <= threshold:
		rec.Status = Expiring
	default:
		rec.Status = Healthy
	}

	return rec
}

// epochDiff returns end-current, saturating at the int64 range.
func epochDiff(end, current uint64) int64 {
	if end >= current {
		if d := end - current; d <= math.MaxInt64 {
			return int64(d)
		}

		return math.MaxInt64
	}

	if d := current - end; d <= math.MaxInt64 {
		return -int64(d)
	}

	return math.MinInt64
}

// EpochSource is the blob network surface the checker reads.
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (uint64, error)
	Expiry(ctx context.Context, ref string) (*uint64, error)
}

// Checker classifies a registry's pages against the blob network.
type Checker struct {
	source    EpochSource // source resolves epochs
	threshold int64       // threshold is the expiring window in epochs
}

// NewChecker creates a checker. A negative threshold uses DefaultThreshold;
// zero marks only blobs in their final epoch as Expiring.
func NewChecker(source EpochSource, threshold int64) *Checker {
	if threshold < 0 {
		threshold = DefaultThreshold
	}

	return &Checker{source: source, threshold: threshold}
}

// Check classifies every page. The current epoch is read once; failing to
// read it fails the check. A failed per-page expiry read classifies that
// page as Unknown and the check continues.
func (c *Checker) Check(ctx context.Context, pages []registry.PageRecord) (*Report, error) {
	current, err := c.source.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current epoch:\n%w", err)
	}

	report := &Report{CurrentEpoch: current, Records: make([]Record, 0, len(pages))}

	for _, p := range pages {
		end, err := c.source.Expiry(ctx, p.ContentRef)
		if err != nil {
			logger.Debug("expiry unresolved", "path", p.Path, "ref", p.ContentRef, "error", err)
			end = nil
		}

		report.Records = append(report.Records, Classify(p.Path, p.ContentRef, current, end, c.threshold))
	}

	return report, nil
}

// Report is the result of a health check.
type Report struct {
	CurrentEpoch uint64   `json:"currentEpoch"`
	Records      []Record `json:"records"`
}

// Counts returns the number of records per status.
func (r *Report) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, rec := range r.Records {
		counts[rec.Status]++
	}

	return counts
}

// RenewalCandidates returns expired then expiring records. Within a class,
// records with fewer epochs remaining come first; ties keep page order.
func (r *Report) RenewalCandidates() []Record {
	var out []Record

	for _, rec := range r.Records {
		if rec.Status == Expired || rec.Status == Expiring {
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Status != out[j].Status {
			return out[i].Status == Expired
		}

		return *out[i].EpochsRemaining < *out[j].EpochsRemaining
	})

	return out
}
