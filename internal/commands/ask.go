package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ragqa/internal/domain"
)

var (
	answerColor  = color.New(color.FgGreen, color.Bold)
	headingColor = color.New(color.FgCyan)
	droppedColor = color.New(color.Faint)
	warnColor    = color.New(color.FgYellow)
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var (
		showContext bool
		showPrompt  bool
		jsonOut     bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := opts.readyPipeline(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close()

			ans, err := p.Answer(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), ans)
			}
			printAnswer(cmd.OutOrStdout(), ans, showContext, showPrompt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showContext, "context", true, "print the retrieved context")
	cmd.Flags().BoolVar(&showPrompt, "prompt", false, "print the prompt sent to the generator")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the answer as JSON")
	return cmd
}

func printAnswer(w io.Writer, ans *domain.Answer, showContext, showPrompt bool) {
	answerColor.Fprintln(w, strings.TrimSpace(ans.Text))
	if ans.ContextEmpty() {
		warnColor.Fprintln(w, "(answered without context: no document fitted the prompt)")
	}
	if showContext && len(ans.Retrieved) > 0 {
		fmt.Fprintln(w)
		headingColor.Fprintln(w, "Context:")
		used := make(map[string]bool, len(ans.Used))
		for _, d := range ans.Used {
			used[d.ID] = true
		}
		for i, r := range ans.Retrieved {
			line := fmt.Sprintf("%d. [%s] score=%.3f %s", i+1, r.Document.ID, r.Score, oneLine(r.Document.Text))
			if used[r.Document.ID] {
				fmt.Fprintln(w, line)
			} else {
				droppedColor.Fprintln(w, line+" (dropped)")
			}
		}
	}
	if showPrompt {
		fmt.Fprintln(w)
		headingColor.Fprintln(w, "Prompt:")
		fmt.Fprintln(w, ans.Prompt)
	}
}

func oneLine(s string) string { return strings.Join(strings.Fields(s), " ") }

type jsonAnswer struct {
	Question     string       `json:"question"`
	Answer       string       `json:"answer"`
	ContextEmpty bool         `json:"context_empty"`
	Context      []jsonResult `json:"context"`
}

type jsonResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

func writeJSON(w io.Writer, ans *domain.Answer) error {
	out := jsonAnswer{
		Question:     ans.Question,
		Answer:       strings.TrimSpace(ans.Text),
		ContextEmpty: ans.ContextEmpty(),
		Context:      make([]jsonResult, 0, len(ans.Retrieved)),
	}
	for _, r := range ans.Retrieved {
		out.Context = append(out.Context, jsonResult{ID: r.Document.ID, Score: r.Score, Text: r.Document.Text})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
