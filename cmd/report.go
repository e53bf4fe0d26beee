package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dashprobe/internal/config"
	"dashprobe/internal/flowlog"
	"dashprobe/internal/ui"
)

var (
	reportSince time.Duration
	reportRun   string
	reportKIDs  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stage timings from the flow log",
	Long: `Summarize how long each stage of the flow took (sign-in, manifest fetch
and parse, license token, download, decrypt) across recorded runs. Use --run to
list the events of one run, or --kids to list the key IDs seen for a title.`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().DurationVar(&reportSince, "since", 30*24*time.Hour, "Only include runs started within this window")
	reportCmd.Flags().StringVar(&reportRun, "run", "", "List the events of one run")
	reportCmd.Flags().StringVar(&reportKIDs, "kids", "", "List key IDs recorded for a content ID")
	reportCmd.MarkFlagsMutuallyExclusive("run", "kids")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path, err := config.FlowLogPath()
	if err != nil {
		return err
	}
	store, err := flowlog.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case reportRun != "":
		events, err := store.Events(ctx, reportRun)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(events)
		}
		if len(events) == 0 {
			return fmt.Errorf("no events for run %s", reportRun)
		}
		rows := make([][]string, len(events))
		for i, ev := range events {
			status := ui.OK("ok")
			if !ev.OK {
				status = ui.Fail(ui.Truncate(ev.Error, 40))
			}
			rows[i] = []string{ev.StartedAt.Format("15:04:05"), string(ev.Stage), ev.Duration.Round(time.Millisecond).String(), status, ui.Truncate(ev.Detail, 40)}
		}
		fmt.Println(ui.Heading("Run " + reportRun))
		fmt.Println(ui.Table([]string{"Time", "Stage", "Took", "Status", "Detail"}, rows))
		return nil

	case reportKIDs != "":
		kids, err := store.KeyIDs(ctx, reportKIDs)
		if err != nil {
			return err
		}
		if flagJSON {
			return printJSON(kids)
		}
		if len(kids) == 0 {
			fmt.Printf("No key IDs recorded for %s.\n", reportKIDs)
			return nil
		}
		for _, kid := range kids {
			fmt.Println(kid)
		}
		return nil
	}

	since := time.Now().Add(-reportSince)
	stats, err := store.Report(ctx, since)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(stats)
	}
	if len(stats) == 0 {
		fmt.Printf("No runs recorded since %s.\n", humanize.Time(since))
		return nil
	}

	rows := make([][]string, len(stats))
	for i, s := range stats {
		rows[i] = []string{
			string(s.Stage),
			fmt.Sprint(s.Count + s.Failures),
			fmt.Sprintf("%.0f%%", 100*s.SuccessRate()),
			msLabel(s.Mean),
			msLabel(s.Median),
			msLabel(s.StdDev),
			msLabel(s.Min),
			msLabel(s.Max),
		}
	}
	fmt.Println(ui.Heading("Flow timings since " + since.Format("2006-01-02")))
	fmt.Println(ui.Table([]string{"Stage", "Runs", "OK", "Mean", "Median", "Stdev", "Min", "Max"}, rows))
	return nil
}

func msLabel(v float64) string {
	return time.Duration(v * float64(time.Millisecond)).Round(time.Millisecond).String()
}
