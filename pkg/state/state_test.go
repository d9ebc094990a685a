package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	for _, s := range All() {
		t.Run(s.String(), func(t *testing.T) {
			got, err := Parse(s.String())
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("b_check_registered")
	require.ErrorIs(t, err, ErrUnknownState)
}

func TestTerminal(t *testing.T) {
	terminal := map[State]bool{}
	for _, s := range TerminalStates() {
		terminal[s] = true
	}
	assert.Len(t, terminal, 2)
	for _, s := range All() {
		assert.Equal(t, terminal[s], s.Terminal(), s.String())
	}
	assert.False(t, Reprocess.Terminal())
	assert.False(t, ErrorDetected.Terminal())
}

func TestOrdinalFollowsWorkflow(t *testing.T) {
	assert.Less(t, New.Ordinal(), WaitForData.Ordinal())
	assert.Less(t, MakingSampleSheet.Ordinal(), Distributing.Ordinal())
	assert.Less(t, Archiving.Ordinal(), Complete.Ordinal())
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(map[string]State{"state": RunningQC})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"running_qc"}`, string(b))

	var out map[string]State
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, RunningQC, out["state"])

	_, err = State(99).MarshalText()
	assert.Error(t, err)
}
