package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelThresholds(t *testing.T) {
	table := LevelTable{{0, "A"}, {100, "B"}, {300, "C"}}
	tests := []struct {
		points int64
		level  int
		title  string
	}{
		{0, 1, "A"},
		{99, 1, "A"},
		{100, 2, "B"},
		{299, 2, "B"},
		{300, 3, "C"},
		{1 << 40, 3, "C"},
		{-5, 1, "A"},
	}
	for _, tt := range tests {
		level, title := table.Level(tt.points)
		assert.Equal(t, tt.level, level, "points %d", tt.points)
		assert.Equal(t, tt.title, title, "points %d", tt.points)
	}
}

func TestLevelEmptyTable(t *testing.T) {
	level, title := LevelTable(nil).Level(500)
	assert.Equal(t, 1, level)
	assert.Equal(t, "", title)
}

func TestParseLevelTable(t *testing.T) {
	table, err := ParseLevelTable("0:Seedling, 100:Sprout,300:Sapling")
	require.NoError(t, err)
	assert.Equal(t, LevelTable{{0, "Seedling"}, {100, "Sprout"}, {300, "Sapling"}}, table)

	for _, bad := range []string{"", "10:A", "0:A,0:B", "0:A,200:B,100:C", "0", "x:A"} {
		_, err := ParseLevelTable(bad)
		assert.ErrorIs(t, err, ErrInvalidLevelTable, "input %q", bad)
	}
}
