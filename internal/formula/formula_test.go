package formula

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyFallsBackToNil(t *testing.T) {
	e, err := Parse("   ")
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestEvalArithmeticPrecedence(t *testing.T) {
	e, err := Parse("2 + 3 * ncpus")
	require.NoError(t, err)
	require.Equal(t, 14.0, e.Eval(Symbols{Resources: map[string]float64{"ncpus": 4}}))
}

func TestEvalParenthesesOverridePrecedence(t *testing.T) {
	e, err := Parse("(2 + 3) * ncpus")
	require.NoError(t, err)
	require.Equal(t, 20.0, e.Eval(Symbols{Resources: map[string]float64{"ncpus": 4}}))
}

func TestEvalUnaryMinus(t *testing.T) {
	e, err := Parse("-job_priority + 10")
	require.NoError(t, err)
	require.Equal(t, 5.0, e.Eval(Symbols{JobPriority: 5}))
}

func TestEvalDocumentedSymbols(t *testing.T) {
	e, err := Parse("eligible_time + queue_priority + job_priority + fairshare_perc + fairshare_factor + accrue_type")
	require.NoError(t, err)
	sym := Symbols{
		EligibleTime: 1, QueuePriority: 2, JobPriority: 3,
		FairsharePerc: 4, FairshareFactor: 5, AccrueType: 6,
	}
	require.Equal(t, 21.0, e.Eval(sym))
}

func TestEvalUndefinedResourceIsZero(t *testing.T) {
	e, err := Parse("mem + 1")
	require.NoError(t, err)
	require.Equal(t, 1.0, e.Eval(Symbols{}))
}

func TestEvalComparisonYieldsOneOrZero(t *testing.T) {
	e, err := Parse("fairshare_factor > 10")
	require.NoError(t, err)
	require.Equal(t, 1.0, e.Eval(Symbols{FairshareFactor: 20}))
	require.Equal(t, 0.0, e.Eval(Symbols{FairshareFactor: 5}))
}

func TestEvalDivisionByZeroYieldsZero(t *testing.T) {
	e, err := Parse("ncpus / mem")
	require.NoError(t, err)
	require.Equal(t, 0.0, e.Eval(Symbols{Resources: map[string]float64{"ncpus": 4}}))
}

func TestParseFileSkipsCommentLine(t *testing.T) {
	e, err := ParseFile("# job sort formula\nncpus * 2\n")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, 8.0, e.Eval(Symbols{Resources: map[string]float64{"ncpus": 4}}))
}

func TestParseFileEmptyBodyFallsBackToNil(t *testing.T) {
	e, err := ParseFile("# comment only, no second line")
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestParseRejectsTrailingGarbage(t *testing.T) {
	_, err := Parse("1 + 2) 3")
	require.Error(t, err)
}

func TestParseRejectsUnbalancedParen(t *testing.T) {
	_, err := Parse("(1 + 2")
	require.Error(t, err)
}

func TestStringReturnsTrimmedSource(t *testing.T) {
	e, err := Parse("  ncpus  ")
	require.NoError(t, err)
	require.Equal(t, "ncpus", e.String())
}
