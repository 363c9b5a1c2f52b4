package wire

import "hash/fnv"

// checksum computes FNV-1a32 (offset 0x811C9DC5, prime 0x01000193) over data
// for frame integrity. hash/fnv implements exactly this algorithm already,
// so the codec uses it directly rather than adding a dependency.
func checksum(data []byte) uint32 {
	h := fnv.New32a()
	h.Write(data)
	return h.Sum32()
}
