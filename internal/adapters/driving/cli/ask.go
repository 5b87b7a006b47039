package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

var (
	askSession   string
	askStructure string
	askRatio     []float64
	askAmount    float64
	askJSON      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about Islamic finance",
	Long: `Answers a question from the ingested documents. The answer streams as it
is generated, cites its sources and is checked against the compliance rules.

Profit-sharing questions are calculated exactly. Amounts and ratios are read
from the question, or can be given with --structure, --ratio and --amount.

Examples:
  mizan ask "What is the difference between murabaha and ijarah?"
  mizan ask "Split 100,000 profit in a musharakah with a 60:40 ratio"
  mizan ask --structure mudharabah --ratio 70,30 --amount 50000 "How is the profit shared?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "continue an existing session")
	askCmd.Flags().StringVar(&askStructure, "structure", "", "calculation structure (musharakah or mudharabah)")
	askCmd.Flags().Float64SliceVar(&askRatio, "ratio", nil, "profit-sharing ratio, e.g. 60,40")
	askCmd.Flags().Float64Var(&askAmount, "amount", 0, "profit amount to distribute")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print each pipeline event as a JSON line")
	rootCmd.AddCommand(askCmd)
}

// streamLine is the JSON line written per event.
type streamLine struct {
	Type domain.EventType `json:"type"`
	Data any              `json:"data"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	req := domain.QueryRequest{
		Query:     strings.Join(args, " "),
		SessionID: askSession,
	}
	if inputs := askInputs(cmd); inputs != nil {
		req.Inputs = inputs
	}

	events, err := queryService.Stream(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		var failed error
		for ev := range events {
			if err := enc.Encode(streamLine{Type: ev.Type, Data: ev.Payload()}); err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			if ev.Type == domain.EventError && ev.Err != nil {
				failed = ev.Err
			}
		}
		return failed
	}

	r := newAnswerRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr())
	var failed error
	for ev := range events {
		if err := r.Render(ev); err != nil {
			failed = err
		}
	}
	if failed != nil {
		return fmt.Errorf("ask failed: %w", failed)
	}
	return nil
}

// askInputs builds explicit calculation inputs from flags, or nil when
// none were given.
func askInputs(cmd *cobra.Command) *domain.CalculationInputs {
	flags := cmd.Flags()
	if !flags.Changed("structure") && !flags.Changed("ratio") && !flags.Changed("amount") {
		return nil
	}
	inputs := &domain.CalculationInputs{
		Structure: askStructure,
		Ratio:     askRatio,
	}
	if flags.Changed("amount") {
		amount := askAmount
		inputs.Amount = &amount
	}
	return inputs
}
