package action

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Extraction must never panic and must leave texts without a well-formed
// action payload completely untouched.
func TestProperty_Extract_ProseUnchanged(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Arbitrary text with the brace characters stripped cannot contain
		// an action payload.
		text := rapid.StringMatching(`[^{}]*`).Draw(rt, "text")

		act, display := Extract(text)
		assert.Nil(rt, act)
		assert.Equal(rt, text, display)
	})
}

func TestProperty_Extract_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-z_]{1,24}`).Draw(rt, "name")
		key := rapid.StringMatching(`[a-z]{1,8}`).Draw(rt, "key")
		value := rapid.String().Draw(rt, "value")
		prefix := rapid.StringMatching(`[a-zA-Z .!?\n]*`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`[a-zA-Z .!?\n]*`).Draw(rt, "suffix")

		payload, err := json.Marshal(map[string]any{
			"action": name,
			"params": map[string]any{key: value},
		})
		require.NoError(rt, err)

		act, display := Extract(prefix + string(payload) + suffix)
		require.NotNil(rt, act, "embedded action must be found")
		assert.Equal(rt, name, string(act.Name))
		got, ok := act.StringParam(key)
		assert.True(rt, ok)
		assert.Equal(rt, value, got)
		assert.NotContains(rt, display, `"action"`)
	})
}

func TestProperty_Extract_MalformedNeverPanics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Sprinkle braces, quotes and backslashes into arbitrary text to
		// fabricate unbalanced/invalid candidates.
		text := rapid.StringMatching(`[{}"\\a-z:, ]{0,200}`).Draw(rt, "text")

		assert.NotPanics(rt, func() {
			act, display := Extract(text)
			if act == nil {
				assert.Equal(rt, text, display)
			}
		}, fmt.Sprintf("input: %q", text))
	})
}
