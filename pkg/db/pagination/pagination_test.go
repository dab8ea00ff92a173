package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrimProducesDecodableToken(t *testing.T) {
	rows := []int64{9, 8, 7, 6}

	page, info := Trim(rows, 3, func(id int64) string { return strconv.FormatInt(id, 10) })
	assert.Equal(t, []int64{9, 8, 7}, page)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "7", cursor.ID)
}

func TestTrimLastPage(t *testing.T) {
	page, info := Trim([]int64{2, 1}, 3, func(id int64) string { return strconv.FormatInt(id, 10) })
	assert.Len(t, page, 2)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}
