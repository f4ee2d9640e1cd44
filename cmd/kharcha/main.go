package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kharcha/reconciler/internal/app"
	"github.com/kharcha/reconciler/internal/config"
	"github.com/kharcha/reconciler/internal/currency"
	"github.com/kharcha/reconciler/internal/discovery"
	"github.com/kharcha/reconciler/internal/domain"
	"github.com/kharcha/reconciler/internal/extract"
	"github.com/kharcha/reconciler/internal/ingestion"
	"github.com/kharcha/reconciler/internal/logger"
	"github.com/kharcha/reconciler/internal/matching"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	bankDir string
	noColor bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kharcha",
		Short:         "Parse, discover and import bank SMS messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.bankDir, "banks", "", "bank directory JSON (defaults to the embedded directory)")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(newParseCmd(opts), newDiscoverCmd(opts), newImportCmd(opts))
	return root
}

func newParseCmd(opts *rootOptions) *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "parse [body]",
		Short: "Extract a transaction from one SMS body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.LoadDirectory(opts.bankDir)
			if err != nil {
				return err
			}
			p, reason := extract.New(dir).Extract(args[0], sender)
			out := cmd.OutOrStdout()
			if p == nil {
				color.New(color.FgYellow).Fprintf(out, "not a transaction (%s)\n", reason)
				return nil
			}
			printParsed(out, *p)
			if s := matching.New(dir).SuggestAccount(*p, sender); s != nil {
				fmt.Fprintf(out, "%-10s %s (%s)\n", "suggest", s.Name, s.Type)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sender, "sender", "s", "", "SMS sender ID")
	return cmd
}

func newDiscoverCmd(opts *rootOptions) *cobra.Command {
	var format, since string
	cmd := &cobra.Command{
		Use:   "discover [file]",
		Short: "Scan an SMS corpus for bank senders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := app.LoadDirectory(opts.bankDir)
			if err != nil {
				return err
			}
			msgs, err := readCorpus(args[0], format)
			if err != nil {
				return err
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("--since must be YYYY-MM-DD: %w", err)
				}
				msgs = filterSince(msgs, t)
			}

			res, err := discovery.New(dir, 0, logger.Nop()).Scan(cmd.Context(), msgs)
			if err != nil {
				return err
			}
			printDiscovery(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", ingestion.FormatAuto, "corpus format: xml, json, csv or auto")
	cmd.Flags().StringVar(&since, "since", "", "only scan messages on or after this date (YYYY-MM-DD)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var format, dbPath string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import an SMS corpus into the ledger database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read corpus: %w", err)
			}

			cfg := config.Load()
			cfg.DBPath = dbPath
			cfg.BankDirectoryPath = opts.bankDir
			cfg.AIFallbackEnabled = false
			log := logger.Nop()
			if verbose {
				log = logger.NewWithWriter(cmd.ErrOrStderr())
			}

			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			res, err := a.Ingestion.ImportCorpus(cmd.Context(), data, format)
			if err != nil {
				return err
			}
			printImport(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", ingestion.FormatAuto, "corpus format: xml, json, csv or auto")
	cmd.Flags().StringVar(&dbPath, "db", config.Defaults().DBPath, "SQLite database path")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each decision to stderr")
	return cmd
}

func readCorpus(path, format string) ([]domain.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	if format == "" || format == ingestion.FormatAuto {
		format = ingestion.DetectFormat(data)
	}
	return ingestion.ParseCorpus(data, format)
}

func filterSince(msgs []domain.Message, since time.Time) []domain.Message {
	out := msgs[:0:0]
	for _, m := range msgs {
		if !m.Timestamp.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

func printParsed(w io.Writer, p domain.ParsedTransaction) {
	amount := color.New(color.FgGreen, color.Bold)
	dir := "credit"
	if p.IsDebit {
		amount = color.New(color.FgRed, color.Bold)
		dir = "debit"
	}
	fmt.Fprintf(w, "%-10s ", "amount")
	amount.Fprintf(w, "%s %s\n", currency.Format(p.Amount), dir)

	field := func(name string, v *string) {
		if v != nil {
			fmt.Fprintf(w, "%-10s %s\n", name, *v)
		}
	}
	field("merchant", p.MerchantName)
	field("account", p.AccountHint)
	field("bank", p.BankName)
	field("upi", p.UPIID)
	field("reference", p.ReferenceNumber)
	field("from", p.SenderName)
	field("to", p.ReceiverName)
	if p.CardType != nil {
		fmt.Fprintf(w, "%-10s %s\n", "card", *p.CardType)
	}
	fmt.Fprintf(w, "%-10s %s\n", "category", extract.InferCategory(p.MerchantName))
}

func printDiscovery(w io.Writer, res domain.DiscoveryResult) {
	header := color.New(color.BgBlue, color.FgWhite)
	header.Fprintf(w, " scanned %d  financial %d ", res.ScannedCount, res.FinancialCount)
	fmt.Fprintln(w)

	known := color.New(color.FgGreen).SprintFunc()
	for _, b := range res.DetectedBanks {
		fmt.Fprintf(w, "%s %-28s %5d  %s\n", known("●"), b.BankName, b.TransactionCount, strings.Join(b.SenderIDs, ","))
		if len(b.NewSenderIDs) > 0 {
			color.New(color.FgCyan).Fprintf(w, "  new senders: %s\n", strings.Join(b.NewSenderIDs, ","))
		}
	}
	unknown := color.New(color.FgYellow).SprintFunc()
	for _, b := range res.UnknownSenders {
		fmt.Fprintf(w, "%s %-28s %5d  %s\n", unknown("?"), b.BankName, b.TransactionCount, b.PrimarySenderID)
	}
}

func printImport(w io.Writer, res *ingestion.ImportResult) {
	if res.AlreadyImported {
		color.New(color.FgYellow).Fprintln(w, "corpus already imported, nothing to do")
		return
	}
	fmt.Fprintf(w, "import %s (%s): %d parsed, %d stored\n", res.ImportID, res.Format, res.MessagesParsed, res.MessagesStored)
	if res.Batch == nil {
		return
	}
	b := res.Batch
	color.New(color.FgGreen).Fprintf(w, "  inserted   %5d\n", b.Inserted)
	color.New(color.FgCyan).Fprintf(w, "  merged     %5d\n", b.Merged)
	fmt.Fprintf(w, "  duplicates %5d\n", b.Duplicates)
	fmt.Fprintf(w, "  skipped    %5d\n", b.NotTransactions)
	if b.Failed > 0 {
		color.New(color.FgRed).Fprintf(w, "  failed     %5d\n", b.Failed)
	}
}
