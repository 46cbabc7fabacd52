package merk

import "github.com/dapperlabs/grovedb/hash"

func hashFromBytes(b []byte) hash.CryptoHash {
	return hash.FromBytes(b)
}

// compareKeys is the total lexicographic order required of keys within a
// single subtree (spec.md §3 "Key and Value").
func compareKeys(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}
