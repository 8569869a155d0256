package main

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/riskibarqy/challenge-ledger/internal/domain/challenge"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

type awardView struct {
	ChallengeID string `yaml:"challenge_id" json:"challenge_id"`
	PlayerID    string `yaml:"player_id" json:"player_id"`
	Rank        int    `yaml:"rank" json:"rank"`
	Points      string `yaml:"points" json:"points"`
	BasePoints  string `yaml:"base_points" json:"base_points"`
	BonusPoints string `yaml:"bonus_points" json:"bonus_points"`
	Note        string `yaml:"note,omitempty" json:"note,omitempty"`
	UpdatedAt   string `yaml:"updated_at" json:"updated_at"`
}

type applicationView struct {
	PlayerID string `yaml:"player_id" json:"player_id"`
	Rank     int    `yaml:"rank" json:"rank"`
	Points   string `yaml:"points" json:"points"`
	Delta    string `yaml:"delta" json:"delta"`
}

type resultView struct {
	RunID       string            `yaml:"run_id" json:"run_id"`
	ChallengeID string            `yaml:"challenge_id" json:"challenge_id"`
	Policy      string            `yaml:"policy,omitempty" json:"policy,omitempty"`
	Skipped     bool              `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Finalized   bool              `yaml:"finalized" json:"finalized"`
	Winners     []string          `yaml:"winners" json:"winners"`
	Applied     []applicationView `yaml:"applied" json:"applied"`
	Withdrawn   []string          `yaml:"withdrawn,omitempty" json:"withdrawn,omitempty"`
	Failed      []string          `yaml:"failed,omitempty" json:"failed,omitempty"`
	TotalDelta  string            `yaml:"total_delta" json:"total_delta"`
}

type batchItemView struct {
	ChallengeID string      `yaml:"challenge_id" json:"challenge_id"`
	Result      *resultView `yaml:"result,omitempty" json:"result,omitempty"`
	Error       string      `yaml:"error,omitempty" json:"error,omitempty"`
}

type recordView struct {
	ChallengeID string   `yaml:"challenge_id" json:"challenge_id"`
	Policy      string   `yaml:"policy" json:"policy"`
	State       string   `yaml:"state" json:"state"`
	Winners     []string `yaml:"winners,omitempty" json:"winners,omitempty"`
	WinnerBonus string   `yaml:"winner_bonus" json:"winner_bonus"`
	RunCount    int64    `yaml:"run_count" json:"run_count"`
	FinalizedAt string   `yaml:"finalized_at,omitempty" json:"finalized_at,omitempty"`
}

type totalView struct {
	PlayerID    string `yaml:"player_id" json:"player_id"`
	TotalPoints string `yaml:"total_points" json:"total_points"`
}

type driftView struct {
	PlayerID  string `yaml:"player_id" json:"player_id"`
	Aggregate string `yaml:"aggregate" json:"aggregate"`
	LedgerSum string `yaml:"ledger_sum" json:"ledger_sum"`
	Drift     string `yaml:"drift" json:"drift"`
}

type auditReportView struct {
	CheckedPlayers int         `yaml:"checked_players" json:"checked_players"`
	Consistent     bool        `yaml:"consistent" json:"consistent"`
	Drift          []driftView `yaml:"drift,omitempty" json:"drift,omitempty"`
}

func render(c *cli.Context, v any) error {
	switch c.String("output") {
	case "json":
		out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(out))
		return err
	case "yaml", "":
		encoder := yaml.NewEncoder(c.App.Writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unknown output format %q", c.String("output"))
	}
}

func awardViews(awards []challenge.PointAward) []awardView {
	out := make([]awardView, 0, len(awards))
	for _, award := range awards {
		out = append(out, awardView{
			ChallengeID: award.ChallengeID,
			PlayerID:    award.PlayerID,
			Rank:        award.Rank,
			Points:      award.Points.String(),
			BasePoints:  award.BasePoints.String(),
			BonusPoints: award.BonusPoints.String(),
			Note:        award.Note,
			UpdatedAt:   award.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func finalizeResultView(result usecase.FinalizeResult) resultView {
	applied := make([]applicationView, 0, len(result.Applied))
	for _, item := range result.Applied {
		applied = append(applied, applicationView{
			PlayerID: item.Award.PlayerID,
			Rank:     item.Award.Rank,
			Points:   item.Award.Points.String(),
			Delta:    item.Delta.String(),
		})
	}
	return resultView{
		RunID:       result.RunID,
		ChallengeID: result.ChallengeID,
		Policy:      string(result.Policy),
		Skipped:     result.Skipped,
		Finalized:   result.Finalized,
		Winners:     result.Winners,
		Applied:     applied,
		Withdrawn:   result.Withdrawn,
		Failed:      result.Failed,
		TotalDelta:  result.TotalDelta.String(),
	}
}

func recordViewOf(record challenge.FinalizationRecord) recordView {
	view := recordView{
		ChallengeID: record.ChallengeID,
		Policy:      string(record.Policy),
		State:       string(record.State()),
		Winners:     record.Winners,
		WinnerBonus: record.WinnerBonus.String(),
		RunCount:    record.RunCount,
	}
	if record.FinalizedAt != nil {
		view.FinalizedAt = record.FinalizedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func auditView(report usecase.AuditReport) auditReportView {
	view := auditReportView{
		CheckedPlayers: report.CheckedPlayers,
		Consistent:     report.Consistent(),
	}
	for _, drift := range report.Drift {
		view.Drift = append(view.Drift, driftView{
			PlayerID:  drift.PlayerID,
			Aggregate: drift.AggregateTotal.String(),
			LedgerSum: drift.LedgerSum.String(),
			Drift:     drift.Drift.String(),
		})
	}
	return view
}
