package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/nlsql/internal/pipeline"
)

type AskCmd struct{}

func NewAskCmd() *AskCmd {
	return &AskCmd{}
}

func (c *AskCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question and print the stage timings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Root().PersistentFlags().GetBool("verbose")
			if err != nil {
				return fmt.Errorf("failed to get verbose flag: %w", err)
			}
			cfg, err := loadPipelineConfig(cmd)
			if err != nil {
				return err
			}

			log := newLogger(cmd.ErrOrStderr(), verbose)

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, log, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn("failed to close resources", "error", err)
				}
			}()

			st, err := a.Pipeline.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("failed to answer question: %w", err)
			}

			printState(cmd.OutOrStdout(), st)
			if st.Error != "" {
				return errors.New("query rejected")
			}
			return nil
		},
	}
}

func printState(w io.Writer, st pipeline.State) {
	fmt.Fprintln(w, "Question:", st.Query)
	fmt.Fprintln(w, "SQL:", st.SQL)

	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(true)
	table.SetHeader([]string{"Stage", "ms"})
	for _, row := range []struct {
		stage string
		ms    *int64
	}{
		{"intent", st.Timings.Intent},
		{"sql", st.Timings.SQL},
		{"validate", st.Timings.Validate},
		{"execute", st.Timings.Execute},
		{"total", st.Timings.Total()},
	} {
		table.Append([]string{row.stage, formatMillis(row.ms)})
	}
	table.Render()

	if st.Error != "" {
		fmt.Fprintln(w, "Rejected:", st.Error)
		return
	}
	fmt.Fprintln(w, "Result:", st.Result)
}

func formatMillis(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return strconv.FormatInt(*ms, 10)
}
