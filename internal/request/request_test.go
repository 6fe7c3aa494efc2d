package request

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSelectBasic(t *testing.T) {
	sel, err := ParseSelect("1:ncpus=2:mem=2gb")
	require.NoError(t, err)
	require.Len(t, sel.Chunks, 1)
	require.Equal(t, 1, sel.Chunks[0].N)
	require.Equal(t, []ResourceReq{{Name: "ncpus", Val: "2"}, {Name: "mem", Val: "2gb"}}, sel.Chunks[0].Requests)
}

func TestParseSelectDefaultMultiplicity(t *testing.T) {
	sel, err := ParseSelect("ncpus=1")
	require.NoError(t, err)
	require.Equal(t, 1, sel.Chunks[0].N)
}

func TestParseSelectMultiChunk(t *testing.T) {
	sel, err := ParseSelect("2:ncpus=1+1:ncpus=4:mem=8gb")
	require.NoError(t, err)
	require.Len(t, sel.Chunks, 2)
	require.Equal(t, 2, sel.Chunks[0].N)
	require.Equal(t, 1, sel.Chunks[1].N)
	require.Equal(t, 3, sel.TotalChunks())
}

func TestSelectRoundTrip(t *testing.T) {
	cases := []string{
		"1:ncpus=2:mem=2gb",
		"4:ncpus=1",
		"2:ncpus=1+1:ncpus=4:mem=8gb",
	}
	for _, c := range cases {
		sel, err := ParseSelect(c)
		require.NoError(t, err)
		again, err := ParseSelect(sel.Unparse())
		require.NoError(t, err)
		require.Equal(t, sel, again, "round trip for %q", c)
	}
}

func TestParsePlace(t *testing.T) {
	pl, err := ParsePlace("scatter|excl")
	require.NoError(t, err)
	require.Equal(t, ArrangeScatter, pl.Arrangement)
	require.Equal(t, ShareExcl, pl.Sharing)
}

func TestPlaceRoundTrip(t *testing.T) {
	cases := []string{"pack", "scatter|excl", "free|group=host", "vscatter|shared"}
	for _, c := range cases {
		pl, err := ParsePlace(c)
		require.NoError(t, err)
		again, err := ParsePlace(pl.Unparse())
		require.NoError(t, err)
		require.Equal(t, pl, again, "round trip for %q", c)
	}
}

func TestMultinode(t *testing.T) {
	sel, _ := ParseSelect("4:ncpus=1")
	pl, _ := ParsePlace("scatter")
	require.True(t, Multinode(sel, pl))

	sel1, _ := ParseSelect("1:ncpus=1")
	require.False(t, Multinode(sel1, pl))
}
