package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/config"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/logger"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/scheduler"
	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/store/memory"
)

type planOptions struct {
	fixture string
	at      string
	commit  bool
}

func newPlanCommand() *cobra.Command {
	var opts planOptions
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the jobs each due definition of a YAML fixture would produce",
		Long: `plan loads harvest definitions, schedules, domain configurations and
harvest history from a YAML fixture and prints, as JSON, what triggering every
definition due at --at would produce. With --commit the tick is executed
against the in-memory store and the committed result is printed instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.fixture, "fixture", "", "YAML fixture file (required)")
	cmd.Flags().StringVar(&opts.at, "at", "", "planning instant, RFC 3339 (default now)")
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "commit the tick against the in-memory store")
	_ = cmd.MarkFlagRequired("fixture")
	return cmd
}

func runPlan(ctx context.Context, out io.Writer, opts planOptions) error {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		return invalidConfig(err)
	}
	schedCfg, err := cfg.SchedulerConfig()
	if err != nil {
		return invalidConfig(err)
	}

	at := time.Now()
	if opts.at != "" {
		parsed, err := time.Parse(time.RFC3339, opts.at)
		if err != nil {
			return invalidConfig(fmt.Errorf("--at: %w", err))
		}
		at = parsed
	}
	at = at.In(schedCfg.Location)

	f, err := os.Open(opts.fixture)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	store := memory.New()
	if err := store.LoadFixture(f, at); err != nil {
		return invalidConfig(fmt.Errorf("load fixture %s: %w", opts.fixture, err))
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sched := scheduler.New(schedCfg, store, cfg.EstimatorParams(), cfg.PartitionerParams()).
		WithLogger(log).
		WithClock(func() time.Time { return at })

	var results []scheduler.TriggerResult
	if opts.commit {
		report, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		results = report.Results
	} else {
		results, err = dryRun(ctx, sched, store, at, log)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(newPlanReport(at, opts.commit, results))
}

func dryRun(ctx context.Context, sched *scheduler.Scheduler, store *memory.Store, at time.Time, log logger.Logger) ([]scheduler.TriggerResult, error) {
	ids, err := store.LoadDueHarvestDefinitions(ctx, at)
	if err != nil {
		return nil, err
	}
	results := make([]scheduler.TriggerResult, 0, len(ids))
	for _, id := range ids {
		hd, err := store.LoadHarvestDefinition(ctx, id)
		if err != nil {
			return nil, err
		}
		res, err := sched.Plan(ctx, hd, at)
		if err != nil {
			log.Warn("plan failed", logger.Int64("harvest_id", id), logger.Error(err))
			res.Err = err
		}
		results = append(results, res)
	}
	return results, nil
}

type planReport struct {
	At          time.Time          `json:"at"`
	Committed   bool               `json:"committed"`
	JobsCreated int                `json:"jobs_created"`
	Definitions []definitionReport `json:"definitions"`
}

type definitionReport struct {
	ID              int64       `json:"id"`
	Name            string      `json:"name,omitempty"`
	Kind            string      `json:"kind"`
	Status          string      `json:"status"`
	Error           string      `json:"error,omitempty"`
	NumEvents       int         `json:"num_events"`
	NextDate        *time.Time  `json:"next_date,omitempty"`
	Skipped         int         `json:"skipped,omitempty"`
	ExpectedObjects int64       `json:"expected_objects"`
	Jobs            []jobReport `json:"jobs"`
}

type jobReport struct {
	ID              string             `json:"id"`
	Template        string             `json:"template"`
	Configurations  []domain.ConfigKey `json:"configurations"`
	ExpectedObjects int64              `json:"expected_objects"`
	HarvestNum      int                `json:"harvest_num"`
	Priority        string             `json:"priority"`
	MaxObjects      int64              `json:"max_objects"`
	MaxBytes        int64              `json:"max_bytes"`
	MaxRunningTime  string             `json:"max_running_time,omitempty"`
}

func newPlanReport(at time.Time, committed bool, results []scheduler.TriggerResult) planReport {
	report := planReport{At: at, Committed: committed, Definitions: make([]definitionReport, 0, len(results))}
	for _, res := range results {
		hd := res.Definition
		dr := definitionReport{
			ID:              hd.ID,
			Name:            hd.Name,
			Kind:            hd.Kind.String(),
			Status:          string(res.Status),
			NumEvents:       hd.NumEvents,
			Skipped:         res.Skipped,
			ExpectedObjects: res.ExpectedObjects(),
			Jobs:            make([]jobReport, 0, len(res.Jobs)),
		}
		if res.Err != nil {
			dr.Error = res.Err.Error()
		}
		if hd.Selective != nil {
			dr.NextDate = hd.Selective.NextDate
		}
		for _, j := range res.Jobs {
			jr := jobReport{
				ID:              j.ID.String(),
				Template:        j.Template,
				Configurations:  j.Configurations,
				ExpectedObjects: j.ExpectedObjects,
				HarvestNum:      j.HarvestNum,
				Priority:        string(j.Priority),
				MaxObjects:      j.MaxObjects,
				MaxBytes:        j.MaxBytes,
			}
			if j.MaxRunningTime > 0 {
				jr.MaxRunningTime = j.MaxRunningTime.String()
			}
			dr.Jobs = append(dr.Jobs, jr)
		}
		if res.Status == scheduler.StatusCreated {
			report.JobsCreated += len(res.Jobs)
		}
		report.Definitions = append(report.Definitions, dr)
	}
	return report
}
