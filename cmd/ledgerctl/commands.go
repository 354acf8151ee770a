package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	reconciliationdomain "github.com/joshmstewart/bestdayministries-sub013/internal/reconciliation/domain"
	recoverydomain "github.com/joshmstewart/bestdayministries-sub013/internal/recovery/domain"
	"github.com/spf13/cobra"
)

func reconcileCmd() *cobra.Command {
	var (
		mode      string
		batchSize int
		resume    string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare pending and active ledger rows with the processor and correct their status",
		Long: `Reconcile walks pending, active and scheduled_cancel rows for one processor
mode and corrects their status from the processor's view.

Examples:
  ledgerctl reconcile --mode test
  ledgerctl reconcile --batch-size 100 --resume 1790123456789`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchSize < 0 {
				return fmt.Errorf("--batch-size cannot be negative")
			}
			req := reconciliationdomain.Request{
				Mode:        mode,
				BatchSize:   batchSize,
				ResumeJobID: resume,
				TriggeredBy: actorCLI,
			}
			return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
				report, err := svc.Reconciliation.Run(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "processor mode (test or live), defaults to the stored setting")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "maximum rows to check in this run")
	cmd.Flags().StringVar(&resume, "resume", "", "job id of a previous run to continue after")

	return cmd
}

func recoverCmd() *cobra.Command {
	var (
		mode       string
		limit      int
		resume     string
		dryRun     bool
		candidates string
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Rebuild ledger rows for payments that have a receipt or placeholder but no confirmed row",
		Long: `Recover finds orphaned receipts and stale pending rows, matches them to
processor payments and creates, links or cancels ledger rows.

A run that hits --limit records where it stopped and the next run continues
from there. --resume starts after an earlier run instead.

With --dry-run nothing is written and a per-candidate diagnosis is printed.
--candidates reads a JSON array of operator supplied candidates instead of
scanning the ledger.

Examples:
  ledgerctl recover --mode live --limit 20
  ledgerctl recover --limit 20 --resume 1790123456789
  ledgerctl recover --dry-run --candidates missing.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit cannot be negative")
			}
			req := recoverydomain.Request{
				Mode:        mode,
				Limit:       limit,
				ResumeJobID: resume,
				TriggeredBy: actorCLI,
			}
			if candidates != "" {
				loaded, err := readCandidates(candidates)
				if err != nil {
					return err
				}
				req.Candidates = loaded
			}

			return withServices(cmd.Context(), func(ctx context.Context, svc services) error {
				if dryRun {
					diagnosis, err := svc.Recovery.Diagnose(ctx, req)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), diagnosis)
				}
				report, err := svc.Recovery.Run(ctx, req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "processor mode (test or live), defaults to the stored setting")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum candidates to process")
	cmd.Flags().StringVar(&resume, "resume", "", "job id of a previous run to continue after")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "diagnose without writing anything")
	cmd.Flags().StringVar(&candidates, "candidates", "", "path to a JSON array of candidates")

	return cmd
}

func readCandidates(path string) ([]recoverydomain.Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	var out []recoverydomain.Candidate
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	return out, nil
}
