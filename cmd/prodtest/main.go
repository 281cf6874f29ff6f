package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"production-test/internal/db"
	"production-test/internal/session"
	"production-test/internal/tasks"
	"production-test/pkg/prodtest"
)

// Version is set at build time.
var Version = "dev"

const (
	exitError     = 1
	exitCancelled = 130
)

var (
	opts     prodtest.Options
	noColour bool
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:           "prodtest",
	Short:         "Run production tests against a networked test fixture",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover the device, run one timed test and report the result",
	Long: `Run sends one discovery probe to the device, starts a test of the given
duration and sample interval, prints progress and the data summary, and
optionally writes a chart or data file. Press Ctrl+C to cancel the test.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p := newPrinter(os.Stdout, colourEnabled())
		res, err := prodtest.Run(ctx, opts, p.event)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case session.OutcomeCancelled:
			exitCode = exitCancelled
		case session.OutcomeError:
			exitCode = exitError
		}
		return nil
	},
}

var (
	historySerial  string
	historyOutcome string
	historyLimit   int
	historyJSON    bool
	historyShow    string
	historyDelete  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded test runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tasks.LoadHistoryConfig(opts)
		if err != nil {
			return err
		}
		store, err := tasks.OpenHistory(cfg.Storage.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		if historyShow != "" {
			return showRun(ctx, store, historyShow)
		}
		if historyDelete != "" {
			if _, err := store.GetRun(ctx, historyDelete); err != nil {
				return err
			}
			if err := store.DeleteRun(ctx, historyDelete); err != nil {
				return err
			}
			fmt.Printf("Deleted run %s\n", historyDelete)
			return nil
		}
		filter := db.RunFilter{Serial: historySerial, Outcome: historyOutcome, Limit: historyLimit}
		if historyJSON {
			b, err := store.HistoryJSON(ctx, filter)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		runs, err := store.ListRuns(ctx, filter)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tSESSION\tDEVICE\tOUTCOME\tSAMPLES\tVOLTAGE (mV)\tCURRENT (mA)")
		for _, r := range runs {
			volts, amps, count := "-", "-", 0
			if r.Summary != nil {
				volts, amps, count = r.Summary.Voltage.Range(), r.Summary.Current.Range(), r.Summary.Count
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
				r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.SessionID, r.Device.Name(), r.Outcome, count, volts, amps)
		}
		return w.Flush()
	},
}

func showRun(ctx context.Context, store *db.DB, id string) error {
	run, err := store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	readings, err := store.RunReadings(ctx, id)
	if err != nil {
		return err
	}
	out := struct {
		db.RunInfo
		Readings any `json:"readings"`
	}{run, readings}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run history API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		return prodtest.ServeHistory(ctx, opts)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (optional)")
	pf.StringVar(&opts.DBPath, "db", "", "run history database path")
	pf.StringVar(&opts.LiveViewAddr, "live-view-addr", "", "live view listen address, e.g. :8090 (enables the live view)")

	f := runCmd.Flags()
	f.StringVar(&opts.DeviceAddress, "device-ip", "", "device IPv4 address")
	f.IntVar(&opts.DevicePort, "device-port", 0, "device UDP port (1024-65535)")
	f.StringVar(&opts.InterfaceAddress, "interface-ip", "", "local address to bind")
	f.IntVar(&opts.InterfacePort, "interface-port", 0, "local UDP port (1024-65535)")
	f.IntVarP(&opts.Duration, "duration", "d", 0, "test duration in seconds")
	f.IntVarP(&opts.Interval, "interval", "i", 0, "sample interval in milliseconds (10-10000)")
	f.IntVar(&opts.DisplayWindow, "window", 0, "live display window in samples (10-100)")
	f.BoolVar(&opts.GenerateFile, "generate-file", false, "write the readings to a file when the test completes")
	f.StringVarP(&opts.Format, "format", "f", "", "output file format: PDF, PNG, SVG, CSV or JSON (implies --generate-file)")
	f.StringVarP(&opts.OutputDir, "output-dir", "o", "", "directory for the output file")
	f.BoolVar(&opts.StorageEnabled, "record", false, "record the run in the history database")
	f.StringVar(&opts.CaptureDir, "capture-dir", "", "journal raw samples to this directory")
	f.StringVar(&opts.CaptureType, "capture-type", "", "journal file type: jsonl, csv or both")
	f.BoolVar(&opts.LiveView, "live-view", false, "serve the live view while the test runs")
	f.BoolVar(&noColour, "no-colour", false, "disable coloured output")

	hf := historyCmd.Flags()
	hf.StringVar(&historySerial, "serial", "", "only runs of this device serial")
	hf.StringVar(&historyOutcome, "outcome", "", "only runs with this outcome (completed, cancelled, error)")
	hf.IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs")
	hf.BoolVar(&historyJSON, "json", false, "print JSON")
	hf.StringVar(&historyShow, "show", "", "print one run with its readings as JSON")
	hf.StringVar(&historyDelete, "delete", "", "delete one run and its readings")

	rootCmd.AddCommand(runCmd, historyCmd, serveCmd)
	rootCmd.Version = Version
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigCh:
			log.Printf("received signal: %v, cancelling...", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func colourEnabled() bool {
	if noColour || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitCode)
}
