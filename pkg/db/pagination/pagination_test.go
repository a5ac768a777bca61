package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ ID string }

func TestPage(t *testing.T) {
	rows := []*row{{"5"}, {"4"}, {"3"}}

	page, info := Page(rows, 2, func(r *row) string { return r.ID })
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	c, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "4", c.ID)

	page, info = Page(rows, 5, func(r *row) string { return r.ID })
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestSize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Size())
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Size())
	require.Equal(t, 20, Pagination{Limit: 20}.Size())
}

func TestScopeRejectsBadCursor(t *testing.T) {
	_, err := Pagination{Cursor: "%%%"}.Scope("id")
	require.Error(t, err)
}
