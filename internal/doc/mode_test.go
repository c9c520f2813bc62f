package doc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextMode_Table(t *testing.T) {
	anon := unidentified{}
	alice := identified{actor: "alice"}

	tests := []struct {
		mode Mode
		id   identity
		ev   modeEvent
		want Mode
	}{
		{ModePending, anon, evActorAssigned, ModePending},
		{ModePending, alice, evActorAssigned, ModePending},
		{ModePending, anon, evHistoryConfirmed, ModeRead},
		{ModePending, alice, evHistoryConfirmed, ModeWrite},
		{ModeRead, alice, evActorAssigned, ModeWrite},
		{ModeRead, anon, evActorAssigned, ModeRead},
		{ModeRead, anon, evHistoryConfirmed, ModeRead},
		{ModeWrite, alice, evHistoryConfirmed, ModeWrite},
		{ModeWrite, anon, evActorAssigned, ModeWrite},
	}
	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, nextMode(tt.mode, tt.id, tt.ev))
		})
	}
}

func TestNextMode_NeverRegresses(t *testing.T) {
	ids := []identity{unidentified{}, identified{actor: "a"}}
	events := []modeEvent{evActorAssigned, evHistoryConfirmed}
	for _, m := range []Mode{ModePending, ModeRead, ModeWrite} {
		for _, id := range ids {
			for _, ev := range events {
				assert.GreaterOrEqual(t, nextMode(m, id, ev), m)
			}
		}
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "pending", ModePending.String())
	assert.Equal(t, "read", ModeRead.String())
	assert.Equal(t, "write", ModeWrite.String())
	assert.Equal(t, "unknown", Mode(9).String())
}
