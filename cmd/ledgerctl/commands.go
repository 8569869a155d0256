package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/riskibarqy/challenge-ledger/internal/app"
	"github.com/riskibarqy/challenge-ledger/internal/usecase"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

func finalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "finalize",
		Usage: "finalize one challenge from a score snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "challenge", Aliases: []string{"c"}, Required: true},
			&cli.StringSliceFlag{Name: "score", Aliases: []string{"s"}, Usage: "player=value, repeatable"},
			&cli.Float64Flag{Name: "multiplier", Aliases: []string{"m"}},
			&cli.BoolFlag{Name: "lower-is-better"},
			&cli.StringFlag{Name: "note"},
		},
		Action: func(c *cli.Context) error {
			scores, err := parseScores(c.StringSlice("score"))
			if err != nil {
				return err
			}
			input := usecase.FinalizeInput{
				ChallengeID:    c.String("challenge"),
				ScoresByPlayer: scores,
				Multiplier:     c.Float64("multiplier"),
				HigherIsBetter: !c.Bool("lower-is-better"),
				Note:           c.String("note"),
			}
			return withServices(c, func(ctx context.Context, services app.Services) error {
				result, err := services.Ledger.FinalizeChallenge(ctx, input)
				if err != nil {
					if len(result.Applied) > 0 {
						_ = render(c, finalizeResultView(result))
					}
					return err
				}
				return render(c, finalizeResultView(result))
			})
		},
	}
}

func finalizeBatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "finalize-batch",
		Usage: "finalize every challenge listed in a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			var items []batchFileItem
			if err := readYAML(c.String("file"), &items); err != nil {
				return err
			}
			inputs := make([]usecase.FinalizeInput, 0, len(items))
			for _, item := range items {
				inputs = append(inputs, item.toInput())
			}
			return withServices(c, func(ctx context.Context, services app.Services) error {
				results := services.Ledger.FinalizeBatch(ctx, inputs)
				views := make([]batchItemView, 0, len(results))
				failed := 0
				for _, item := range results {
					view := batchItemView{ChallengeID: item.ChallengeID}
					if item.Err != nil {
						failed++
						view.Error = item.Err.Error()
					} else {
						result := finalizeResultView(item.Result)
						view.Result = &result
					}
					views = append(views, view)
				}
				if err := render(c, views); err != nil {
					return err
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d challenges failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "create or update finalization records from a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			var inputs []usecase.SeedChallengeInput
			if err := readYAML(c.String("file"), &inputs); err != nil {
				return err
			}
			return withServices(c, func(ctx context.Context, services app.Services) error {
				views := make([]recordView, 0, len(inputs))
				for _, input := range inputs {
					record, err := services.Finalization.SeedChallenge(ctx, input)
					if err != nil {
						return fmt.Errorf("seed %s: %w", input.ChallengeID, err)
					}
					views = append(views, recordViewOf(record))
				}
				return render(c, views)
			})
		},
	}
}

func challengeCommand() *cli.Command {
	return &cli.Command{
		Name:  "challenge",
		Usage: "show a finalization record",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "challenge", Aliases: []string{"c"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			return withServices(c, func(ctx context.Context, services app.Services) error {
				record, err := services.Finalization.GetChallenge(ctx, c.String("challenge"))
				if err != nil {
					return err
				}
				return render(c, recordViewOf(record))
			})
		},
	}
}

func awardsCommand() *cli.Command {
	return &cli.Command{
		Name:  "awards",
		Usage: "list awards of a player, or of a challenge",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "player", Aliases: []string{"p"}},
			&cli.StringFlag{Name: "challenge", Aliases: []string{"c"}},
		},
		Action: func(c *cli.Context) error {
			playerID, challengeID := c.String("player"), c.String("challenge")
			if (playerID == "") == (challengeID == "") {
				return fmt.Errorf("exactly one of --player or --challenge is required")
			}
			return withServices(c, func(ctx context.Context, services app.Services) error {
				if playerID != "" {
					awards, err := services.Query.QueryAwardsByPlayer(ctx, playerID)
					if err != nil {
						return err
					}
					return render(c, awardViews(awards))
				}
				awards, err := services.Query.ListAwardsByChallenge(ctx, challengeID)
				if err != nil {
					return err
				}
				return render(c, awardViews(awards))
			})
		},
	}
}

func pointsCommand() *cli.Command {
	return &cli.Command{
		Name:  "points",
		Usage: "show a player's total points",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "player", Aliases: []string{"p"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			return withServices(c, func(ctx context.Context, services app.Services) error {
				total, err := services.Query.GetPlayerTotal(ctx, c.String("player"))
				if err != nil {
					return err
				}
				return render(c, totalView{PlayerID: total.PlayerID, TotalPoints: total.TotalPoints.String()})
			})
		},
	}
}

func auditCommand() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "compare every player total with the sum of their awards",
		Action: func(c *cli.Context) error {
			return withServices(c, func(ctx context.Context, services app.Services) error {
				report, err := services.Audit.Audit(ctx)
				if err != nil {
					return err
				}
				if err := render(c, auditView(report)); err != nil {
					return err
				}
				if !report.Consistent() {
					return cli.Exit(fmt.Sprintf("ledger drift found for %d player(s)", len(report.Drift)), 3)
				}
				return nil
			})
		},
	}
}

// batchFileItem mirrors the HTTP batch item: an omitted higher_is_better
// means higher scores win.
type batchFileItem struct {
	ChallengeID    string             `yaml:"challenge_id"`
	Scores         map[string]float64 `yaml:"scores"`
	Multiplier     float64            `yaml:"multiplier"`
	HigherIsBetter *bool              `yaml:"higher_is_better"`
	Note           string             `yaml:"note"`
}

func (i batchFileItem) toInput() usecase.FinalizeInput {
	higherIsBetter := true
	if i.HigherIsBetter != nil {
		higherIsBetter = *i.HigherIsBetter
	}
	return usecase.FinalizeInput{
		ChallengeID:    i.ChallengeID,
		ScoresByPlayer: i.Scores,
		Multiplier:     i.Multiplier,
		HigherIsBetter: higherIsBetter,
		Note:           i.Note,
	}
}

func parseScores(raw []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(raw))
	for _, item := range raw {
		playerID, value, ok := strings.Cut(item, "=")
		playerID = strings.TrimSpace(playerID)
		if !ok || playerID == "" {
			return nil, fmt.Errorf("score %q must be player=value", item)
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("score for %s: %w", playerID, err)
		}
		if _, dup := scores[playerID]; dup {
			return nil, fmt.Errorf("duplicate score for %s", playerID)
		}
		scores[playerID] = score
	}
	return scores, nil
}

func readYAML(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
