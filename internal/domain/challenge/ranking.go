package challenge

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Rank orders scores using standard competition ranking: equal scores share a
// rank and the next distinct score ranks at 1 + the number of strictly better
// entries (1, 1, 3). Tied entries are ordered by player id.
func Rank(scores map[string]float64, higherIsBetter bool) ([]RankedEntry, error) {
	if len(scores) == 0 {
		return []RankedEntry{}, nil
	}

	out := make([]RankedEntry, 0, len(scores))
	for playerID, score := range scores {
		if strings.TrimSpace(playerID) == "" {
			return nil, fmt.Errorf("%w: player id is empty", ErrInvalidScore)
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, fmt.Errorf("%w: player %s has non-finite score %v", ErrInvalidScore, playerID, score)
		}
		out = append(out, RankedEntry{PlayerID: playerID, RawScore: score})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RawScore != out[j].RawScore {
			if higherIsBetter {
				return out[i].RawScore > out[j].RawScore
			}
			return out[i].RawScore < out[j].RawScore
		}
		return out[i].PlayerID < out[j].PlayerID
	})

	for i := range out {
		if i > 0 && out[i].RawScore == out[i-1].RawScore {
			out[i].Rank = out[i-1].Rank
			continue
		}
		out[i].Rank = i + 1
	}

	return out, nil
}
