package triggerspec

import (
	"fmt"
	"math"

	coreerrors "github.com/aevon-lab/flexevent/internal/core/errors"
)

// MaxBucketThreshold closes the last summary bucket: "this threshold and beyond".
const MaxBucketThreshold = int64(math.MaxUint32)

// SummaryBucket is the inclusive range a running summary value is reported as.
type SummaryBucket struct {
	Start int64
	End   int64
}

func (b SummaryBucket) String() string {
	return fmt.Sprintf("[%d, %d]", b.Start, b.End)
}

// SummaryBucketFromIndex returns [buckets[i], buckets[i+1]-1], or
// [buckets[last], MaxBucketThreshold] for the last index.
func SummaryBucketFromIndex(i int, buckets []int64) (SummaryBucket, error) {
	if i < 0 || i >= len(buckets) {
		return SummaryBucket{}, coreerrors.Lookupf("bucket index %d out of range [0, %d)", i, len(buckets))
	}
	if i == len(buckets)-1 {
		return SummaryBucket{Start: buckets[i], End: MaxBucketThreshold}, nil
	}
	return SummaryBucket{Start: buckets[i], End: buckets[i+1] - 1}, nil
}

// BucketForValue maps a running count or sum to its bucket. It reports false when
// value is below the first threshold, i.e. nothing is reportable yet.
func BucketForValue(value int64, buckets []int64) (SummaryBucket, bool) {
	idx := -1
	for i, b := range buckets {
		if value < b {
			break
		}
		idx = i
	}
	if idx < 0 {
		return SummaryBucket{}, false
	}
	bucket, _ := SummaryBucketFromIndex(idx, buckets)
	return bucket, true
}
