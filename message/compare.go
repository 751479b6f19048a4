package message

import "bytes"

// CompareResource implements RFC 6762 §8.2's simultaneous-probe tiebreaker:
// compare class, then type, then rdata octet-by-octet. A negative result
// means a precedes (loses to) b; a positive result means a wins.
func CompareResource(aType Type, aData RData, bType Type, bData RData) int {
	// Class is always Internet for both sides of a probe; nothing to
	// compare there in practice, but keep the comparison explicit per spec.
	if aType != bType {
		if aType < bType {
			return -1
		}
		return 1
	}
	ab, _ := aData.encode(nil, map[string]int{})
	bb, _ := bData.encode(nil, map[string]int{})
	return bytes.Compare(ab, bb)
}
