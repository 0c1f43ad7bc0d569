package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDayBounds(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	start, end := DayBounds(time.Date(2024, 3, 9, 23, 59, 0, 0, loc))

	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, loc), end)
}
