package partition

import "hash/fnv"

// Count is the fixed number of logical partitions sources are spread over.
const Count = 256

// For returns the partition ID for a source ID.
// Same sourceID always maps to the same partition.
func For(sourceID string) int {
	h := fnv.New32a()
	h.Write([]byte(sourceID))
	return int(h.Sum32() % Count)
}

// Worker folds a source's partition onto one of n workers, so every candidate of a
// source is evaluated by the same worker.
func Worker(sourceID string, n int) int {
	if n <= 1 {
		return 0
	}
	return For(sourceID) % n
}
