package metrics

import (
	"net/http"
	"sort"
	"strconv"
)

// StatusBucket is the number of responses that carried one status code.
type StatusBucket struct {
	Code  int    `json:"code" yaml:"code"`
	Count uint64 `json:"count" yaml:"count"`
}

// Label renders the code with its reason phrase, e.g. "404 Not Found".
func (b StatusBucket) Label() string {
	text := http.StatusText(b.Code)
	if text == "" {
		return strconv.Itoa(b.Code)
	}
	return strconv.Itoa(b.Code) + " " + text
}

// FlattenStatusCodes converts a status->count map into a sorted slice of StatusBucket rows.
// Rows are sorted by descending count, then by code for stability.
func FlattenStatusCodes(codes map[int]uint64) []StatusBucket {
	if len(codes) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(codes))
	for code, count := range codes {
		rows = append(rows, StatusBucket{Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return rows[i].Code < rows[j].Code
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}
