// Package pipeline turns a job's raw intelligence rows into a composite
// due-diligence report. Three independent analysis stages (architecture,
// security, company intelligence) fan out over the collected evidence, then
// a synthesis stage joins on their results. Stage failures are isolated;
// only the initial row fetch can abort a run.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/adamass/diligence-cli/internal/config"
	"github.com/adamass/diligence-cli/internal/model"
	"github.com/adamass/diligence-cli/internal/store"
)

// Pipeline orchestrates the four-stage synthesis for a job.
type Pipeline struct {
	cfg    *config.Config
	store  store.Store
	runner *StageRunner
}

// New creates a Pipeline.
func New(cfg *config.Config, st store.Store, runner *StageRunner) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		runner: runner,
	}
}

// Run executes the full synthesis for one job. The only fatal failure is the
// initial row fetch: it returns an error and no report. Every stage failure
// after that is carried inside the report, so a non-nil report is always
// complete and well formed.
func (p *Pipeline) Run(ctx context.Context, jobID string) (*model.CompositeReport, error) {
	log := zap.L().With(zap.String("job_id", jobID))
	log.Info("pipeline: starting synthesis")
	start := time.Now()

	rows, err := p.store.FetchRows(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: fetch rows for job %s", jobID)
	}
	set := model.IndexRows(rows)
	log.Info("pipeline: rows fetched", zap.Int("rows", len(rows)), zap.Int("sources", len(set)))

	// Fan out the three independent stages. Branches never return errors;
	// every outcome lands in its own section.
	sections := make(map[string]model.Section, 3)
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range model.IndependentStages() {
		runBranch := func() error {
			sec := p.runIndependent(gctx, log, stage, set)
			mu.Lock()
			sections[stage] = sec
			mu.Unlock()
			return nil
		}
		if p.cfg.Pipeline.Sequential {
			_ = runBranch()
		} else {
			g.Go(runBranch)
		}
	}
	_ = g.Wait()

	architecture := sections[model.StageArchitecture]
	security := sections[model.StageSecurity]
	companyIntel := sections[model.StageCompanyIntelligence]

	// Synthesis strictly follows the join above and runs on whatever subset
	// of results exists. All-absent means the job had no evidence at all.
	synthesis := p.runSynthesis(ctx, log, architecture, security, companyIntel)

	report := &model.CompositeReport{
		JobID:                  jobID,
		DateGenerated:          time.Now().UTC(),
		Architecture:           architecture,
		Security:               security,
		CompanyIntelligence:    companyIntel,
		AdamassSynthesisReport: synthesis,
	}

	// Persistence is a delivery convenience, not part of the run contract.
	if _, err := p.store.SaveReport(ctx, report); err != nil {
		log.Warn("pipeline: failed to persist report", zap.Error(err))
	}

	log.Info("pipeline: synthesis complete",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.String("architecture", sectionOutcome(architecture)),
		zap.String("security", sectionOutcome(security)),
		zap.String("company_intelligence", sectionOutcome(companyIntel)),
		zap.String("adamass_synthesis", sectionOutcome(synthesis)),
	)
	return report, nil
}

func (p *Pipeline) runIndependent(ctx context.Context, log *zap.Logger, stage string, set model.RowSet) model.Section {
	input, ok, err := AssembleInput(stage, set)
	if err != nil {
		return failedStage(stage, err)
	}
	if !ok {
		log.Info("pipeline: stage skipped, no evidence", zap.String("stage", stage))
		return model.Section{}
	}
	return p.runner.Run(ctx, stage, input)
}

func (p *Pipeline) runSynthesis(ctx context.Context, log *zap.Logger, architecture, security, companyIntel model.Section) model.Section {
	input, ok, err := AssembleSynthesisInput(architecture, security, companyIntel)
	if err != nil {
		return failedStage(model.StageSynthesis, err)
	}
	if !ok {
		log.Info("pipeline: synthesis skipped, all stages absent")
		return model.Section{}
	}
	return p.runner.Run(ctx, model.StageSynthesis, input)
}

// sectionOutcome renders a section's state for run-summary logs.
func sectionOutcome(s model.Section) string {
	switch s.State {
	case model.SectionSucceeded:
		return "success"
	case model.SectionFailed:
		return "failure"
	default:
		return "absent"
	}
}

// RunToJSON executes the pipeline and marshals the report, used by callers
// that deliver the report verbatim.
func (p *Pipeline) RunToJSON(ctx context.Context, jobID string) ([]byte, error) {
	report, err := p.Run(ctx, jobID)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: marshal report")
	}
	return out, nil
}
