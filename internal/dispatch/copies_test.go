package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracyhatemice/dispatchmail/internal/radioid"
)

func TestCopyPolicy(t *testing.T) {
	rec := &Record{DispatchedUnits: []radioid.Unit{
		brb(1, 16, 21),
		brb(1, 44, 1),
		brb(2, 16, 21),
		radioid.Raw("FL BRB 01/16-21 (Reserve)"),
	}}

	tests := []struct {
		name   string
		policy CopyPolicy
		want   int
	}{
		{"home units only", CopyPolicy{Org: "FL", County: "BRB", Agency: 1}, 2},
		{"additional", CopyPolicy{Org: "FL", County: "BRB", Agency: 1, Additional: 1}, 3},
		{"minimum", CopyPolicy{Org: "FL", County: "PM", Agency: 1, Min: 1}, 1},
		{"maximum", CopyPolicy{Org: "FL", County: "BRB", Agency: 1, Additional: 10, Max: 5}, 5},
		{"no units", CopyPolicy{Org: "FL", County: "BRB", Agency: 9}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.policy.Copies(rec))
		})
	}
}
