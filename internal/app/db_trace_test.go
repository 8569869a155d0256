package app

import (
	"strings"
	"testing"
)

func TestFormatDBQueryForTrace(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "collapses whitespace",
			query: " SELECT   *\nFROM point_awards \t WHERE player_id = $1 ",
			want:  "SELECT * FROM point_awards WHERE player_id = $1",
		},
		{
			name:  "keeps short placeholder lists",
			query: "SELECT * FROM point_awards WHERE challenge_id = $1 AND player_id IN ($2, $3)",
			want:  "SELECT * FROM point_awards WHERE challenge_id = $1 AND player_id IN ($2, $3)",
		},
		{
			name:  "folds long placeholder runs",
			query: "SELECT * FROM player_aggregates WHERE player_id IN ($1, $2, $3, $4, $5)",
			want:  "SELECT * FROM player_aggregates WHERE player_id IN ($1...$5)",
		},
		{
			name:  "empty",
			query: "  \n ",
			want:  "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatDBQueryForTrace(tc.query); got != tc.want {
				t.Fatalf("unexpected formatted query: got=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestFormatDBQueryForTrace_Truncates(t *testing.T) {
	got := formatDBQueryForTrace(strings.Repeat("x", maxTracedQueryLength+10))
	if len(got) != maxTracedQueryLength+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncated query of length %d", len(got))
	}
}
