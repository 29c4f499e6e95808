package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/interviewd/internal/checkpoint"
	"github.com/ashureev/interviewd/internal/domain"
)

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [token]",
		Short: "Show the current state of an interview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd, func(store checkpoint.Store) error {
				rec, err := store.Load(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("load %s: %w", args[0], err)
				}
				if rec == nil {
					return fmt.Errorf("%s: %w", args[0], domain.ErrUnknownSession)
				}
				return printRecord(cmd, rec)
			})
		},
	}
}

func newAtCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "at [token] [step]",
		Short: "Show an interview as it was after a past step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || step < 1 {
				return fmt.Errorf("step must be a positive integer, got %q", args[1])
			}
			return a.withStore(cmd, func(store checkpoint.Store) error {
				rec, err := store.LoadAt(cmd.Context(), args[0], step)
				if err != nil {
					return fmt.Errorf("load %s at step %d: %w", args[0], step, err)
				}
				if rec == nil {
					return fmt.Errorf("%s has no step %d: %w", args[0], step, domain.ErrUnknownSession)
				}
				return printRecord(cmd, rec)
			})
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [token]",
		Short: "List the steps of an interview, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("--limit must be > 0")
			}
			return a.withStore(cmd, func(store checkpoint.Store) error {
				recs, err := store.History(cmd.Context(), args[0], limit)
				if err != nil {
					return fmt.Errorf("history %s: %w", args[0], err)
				}
				if len(recs) == 0 {
					return fmt.Errorf("%s: %w", args[0], domain.ErrUnknownSession)
				}
				return printHistory(cmd, recs)
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of steps to list")
	return cmd
}

// stepView is the printable digest of one checkpoint.
type stepView struct {
	Token        string                   `json:"token"`
	Step         int64                    `json:"step"`
	Mode         domain.Mode              `json:"mode"`
	QuestionSet  string                   `json:"question_set,omitempty"`
	Terminal     bool                     `json:"terminal"`
	Reason       domain.TerminationReason `json:"reason,omitempty"`
	Completeness float64                  `json:"completeness"`
	TurnsAsked   int                      `json:"turns_asked"`
	Gaps         int                      `json:"gaps"`
	Resolved     int                      `json:"resolved"`
	Pending      string                   `json:"pending,omitempty"`
	LastAction   string                   `json:"last_action,omitempty"`
	UpdatedAt    time.Time                `json:"updated_at"`
	Error        string                   `json:"error,omitempty"`
}

func viewOf(rec *checkpoint.Record) stepView {
	v := stepView{Token: rec.Token, Step: rec.Step, Terminal: rec.Terminal, UpdatedAt: rec.UpdatedAt}
	st, err := checkpoint.Decode(rec)
	if err != nil {
		v.Error = err.Error()
		return v
	}
	v.Mode = st.Mode
	v.QuestionSet = st.QuestionSetRef
	v.Reason = st.TerminationReason
	v.Completeness = st.Completeness
	v.TurnsAsked = st.TurnsAsked
	v.Gaps = len(st.Gaps)
	v.Resolved = len(st.Resolved)
	v.LastAction = st.LastAction
	if st.ActiveQuestion != nil {
		v.Pending = st.ActiveQuestion.Prompt
		if v.Pending == "" {
			v.Pending = st.ActiveQuestion.QuestionText
		}
	}
	return v
}

func printRecord(cmd *cobra.Command, rec *checkpoint.Record) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		st, err := checkpoint.Decode(rec)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"step": rec.Step, "state": st})
	}

	v := viewOf(rec)
	if v.Error != "" {
		return fmt.Errorf("decode %s step %d: %s", rec.Token, rec.Step, v.Error)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "token\t%s\n", v.Token)
	fmt.Fprintf(tw, "step\t%d\n", v.Step)
	fmt.Fprintf(tw, "mode\t%s\n", v.Mode)
	if v.QuestionSet != "" {
		fmt.Fprintf(tw, "question set\t%s\n", v.QuestionSet)
	}
	fmt.Fprintf(tw, "completeness\t%.2f\n", v.Completeness)
	fmt.Fprintf(tw, "questions asked\t%d\n", v.TurnsAsked)
	fmt.Fprintf(tw, "gaps resolved\t%d/%d\n", v.Resolved, v.Gaps)
	if v.Terminal {
		fmt.Fprintf(tw, "finished\t%s\n", v.Reason)
	} else if v.Pending != "" {
		fmt.Fprintf(tw, "pending\t%s\n", v.Pending)
	}
	fmt.Fprintf(tw, "updated\t%s\n", v.UpdatedAt.Format(time.RFC3339))
	return tw.Flush()
}

func printHistory(cmd *cobra.Command, recs []checkpoint.Record) error {
	views := make([]stepView, 0, len(recs))
	for i := range recs {
		views = append(views, viewOf(&recs[i]))
	}
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return writeJSON(out, views)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tUPDATED\tASKED\tCOMPLETENESS\tACTION\tSTATUS")
	for _, v := range views {
		status := "open"
		switch {
		case v.Error != "":
			status = "unreadable"
		case v.Terminal:
			status = string(v.Reason)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.2f\t%s\t%s\n",
			v.Step, v.UpdatedAt.Format(time.RFC3339), v.TurnsAsked, v.Completeness, v.LastAction, status)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
