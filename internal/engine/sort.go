// file: internal/engine/sort.go
// version: 1.0.0
// guid: 2c8f5a1e-9d4b-47c3-b6e0-3a7d1f9c5b82

package engine

import (
	"regexp"
	"sort"
	"strconv"

	"github.com/mangadeck/mangadeck/internal/database"
)

var titleNumber = regexp.MustCompile(`[0-9]+(?:\.[0-9]+)?`)

// titleSortKey extracts the numeric portion of a volume title ("Volume 10"
// -> 10). Titles without a number sort as 0.
func titleSortKey(title string) float64 {
	match := titleNumber.FindString(title)
	if match == "" {
		return 0
	}
	n, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return n
}

// SortVolumesByTitle orders volumes by the numeric portion of their titles,
// so "Volume 2" comes before "Volume 10". Ties fall back to the title string
// to keep the order deterministic.
func SortVolumesByTitle(vols []database.Volume) {
	sort.SliceStable(vols, func(i, j int) bool {
		ki, kj := titleSortKey(vols[i].Title), titleSortKey(vols[j].Title)
		if ki != kj {
			return ki < kj
		}
		return vols[i].Title < vols[j].Title
	})
}
