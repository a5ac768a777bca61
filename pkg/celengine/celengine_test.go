package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	attrs := map[string]any{
		VarEvidence:       map[string]any{"photo_count": int64(3), "store": "A12"},
		VarMissionType:    "store-visit",
		VarMemberID:       "m-1",
		VarElapsedSeconds: int64(120),
	}

	ok, err := Evaluate(`evidence.photo_count >= 3 && mission_type == "store-visit"`, attrs)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = Evaluate(`elapsed_seconds < 60`, attrs)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValidateExpression(t *testing.T) {
	require.NoError(t, ValidateExpression(`has(evidence.receipt)`))
	require.Error(t, ValidateExpression(`evidence.`))
	require.Error(t, ValidateExpression(`elapsed_seconds + 1`))
	require.Error(t, ValidateExpression(`unknown_var == 1`))
}

func TestEvaluateMissingKey(t *testing.T) {
	attrs := map[string]any{
		VarEvidence:       map[string]any{},
		VarMissionType:    "visit",
		VarMemberID:       "m-1",
		VarElapsedSeconds: int64(0),
	}

	_, err := Evaluate(`evidence.photo_count > 1`, attrs)
	require.Error(t, err)
}
