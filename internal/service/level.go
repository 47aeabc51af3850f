package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidLevelTable = errors.New("invalid level table")

type LevelThreshold struct {
	MinPoints int64
	Title     string
}

// LevelTable is ordered ascending by MinPoints and starts at 0.
type LevelTable []LevelThreshold

// Level returns the 1-based index of the last row whose MinPoints <= points,
// and that row's title. Points below the first row map to level 1.
func (t LevelTable) Level(points int64) (int, string) {
	if len(t) == 0 {
		return 1, ""
	}
	idx := 0
	for i, row := range t {
		if row.MinPoints > points {
			break
		}
		idx = i
	}
	return idx + 1, t[idx].Title
}

// ParseLevelTable reads "0:Seedling,100:Sprout" style definitions.
func ParseLevelTable(s string) (LevelTable, error) {
	var table LevelTable
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		minStr, title, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q has no title", ErrInvalidLevelTable, part)
		}
		min, err := strconv.ParseInt(strings.TrimSpace(minStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidLevelTable, part, err)
		}
		if n := len(table); n > 0 && min <= table[n-1].MinPoints {
			return nil, fmt.Errorf("%w: thresholds must be ascending", ErrInvalidLevelTable)
		}
		table = append(table, LevelThreshold{MinPoints: min, Title: strings.TrimSpace(title)})
	}
	if len(table) == 0 || table[0].MinPoints != 0 {
		return nil, fmt.Errorf("%w: first threshold must be 0", ErrInvalidLevelTable)
	}
	return table, nil
}
