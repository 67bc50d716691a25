package population

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mlange-42/ark/ecs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pthm-cable/digipop/components"
	"github.com/pthm-cable/digipop/simerr"
	"github.com/pthm-cable/digipop/systems"
)

// UpdateReport summarises one update.
type UpdateReport struct {
	Update int   `json:"update" csv:"update"`
	Budget int64 `json:"budget" csv:"budget"`
	Cycles int64 `json:"cycles" csv:"cycles"` // cycles actually consumed
	Steps  int   `json:"steps" csv:"steps"`

	Injections        int `json:"injections" csv:"injections"`
	Births            int `json:"births" csv:"births"`
	Deaths            int `json:"deaths" csv:"deaths"`
	Evictions         int `json:"evictions" csv:"evictions"`
	PlacementFailures int `json:"placement_failures" csv:"placement_failures"`
	RoleChanges       int `json:"role_changes" csv:"role_changes"`
	Dropped           int `json:"dropped" csv:"dropped"` // outcomes of organisms that died earlier in their batch

	ImmigrationAccepted int `json:"immigration_accepted" csv:"immigration_accepted"`
	ImmigrationRejected int `json:"immigration_rejected" csv:"immigration_rejected"`
	RetentionAccepted   int `json:"retention_accepted" csv:"retention_accepted"`
	RetentionRejected   int `json:"retention_rejected" csv:"retention_rejected"`

	Idle   bool   `json:"idle" csv:"idle"` // no organism was alive to run
	Counts Counts `json:"counts" csv:"-"`
}

// job is one grant with the organism snapshot it executes against.
type job struct {
	grant  systems.Grant
	entity ecs.Entity
	view   components.OrganismView
}

// ProcessPreUpdate resets the per-update counters and fixes the update's
// cycle budget at ave_time_slice cycles per live organism.
func (e *Engine) ProcessPreUpdate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preUpdate()
}

func (e *Engine) preUpdate() {
	e.report = UpdateReport{
		Update: e.update,
		Budget: int64(e.cfg.Scheduler.AveTimeSlice) * int64(e.grid.NumOccupied()),
	}
	if e.report.Budget == 0 {
		e.report.Idle = true
	}
}

// ScheduleNext returns the next scheduling decision.
func (e *Engine) ScheduleNext() (systems.Grant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler.Next()
}

// ProcessStep runs the organism in grant.Slot for grant.Cycles cycles and
// applies its outcome. The slot must be occupied.
func (e *Engine) ProcessStep(ctx context.Context, grant systems.Grant) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.grid.Occupant(grant.Slot)
	if !ok {
		return invariantError("step: slot empty", grant.Slot)
	}
	j := job{grant: grant, entity: ent, view: e.view(ent)}
	e.perf.StartPhase(systems.PhaseExecute)
	out := e.execute(ctx, j)
	e.perf.StartPhase(systems.PhaseApply)
	return e.applyOutcome(j, out)
}

// execute runs one job on the CPU. It does not touch engine state, so it
// may run on a worker goroutine.
func (e *Engine) execute(ctx context.Context, j job) Outcome {
	if !j.view.Traced {
		return e.cpu.Execute(ctx, j.view, j.grant.Cycles)
	}
	ctx, span := e.tracer.Start(ctx, "organism.step", trace.WithAttributes(
		attribute.Int64("organism.id", int64(j.view.ID)),
		attribute.Int("organism.slot", j.view.Slot),
		attribute.Int("update", j.view.Update),
		attribute.Int("budget", j.grant.Cycles),
	))
	defer span.End()
	out := e.cpu.Execute(ctx, j.view, j.grant.Cycles)
	span.SetAttributes(
		attribute.Int("cycles", out.Cycles),
		attribute.Int("offspring", len(out.Offspring)),
		attribute.Bool("died", out.Died),
	)
	slog.Debug("traced step",
		"update", j.view.Update,
		"organism", j.view.ID,
		"slot", j.view.Slot,
		"cycles", out.Cycles,
		"offspring", len(out.Offspring),
		"died", out.Died,
	)
	return out
}

// alive reports whether the job's organism still occupies its slot.
func (e *Engine) alive(j job) bool {
	occ, ok := e.grid.Occupant(j.grant.Slot)
	return ok && occ == j.entity && e.world.Alive(j.entity)
}

// applyOutcome applies a step's effects through the lifecycle paths.
func (e *Engine) applyOutcome(j job, out Outcome) error {
	if !e.alive(j) {
		e.report.Dropped++
		return nil
	}
	slot := j.grant.Slot
	cycles := min(max(out.Cycles, 0), j.grant.Cycles)
	e.report.Steps++
	e.report.Cycles += int64(cycles)

	pheno := e.phenoMap.Get(j.entity)
	pheno.Cycles += int64(cycles)
	pheno.CopyProgress = out.CopyProgress
	pheno.Stored = max(pheno.Stored-out.SpentStored, 0)
	if out.ResourceDemand > 0 {
		for _, got := range e.resources.Consume(slot, out.ResourceDemand) {
			pheno.Stored += got
		}
	}

	if out.Merit != nil {
		e.updateMerit(slot, *out.Merit)
	}
	if out.Role != nil {
		e.setRole(slot, *out.Role)
	}
	if out.MatingType != nil {
		e.changeMatingType(slot, *out.MatingType)
	}
	if out.Intolerance != nil {
		e.setIntolerance(slot, *out.Intolerance)
	}
	if out.MakeGroup && e.cfg.Groups.Enabled {
		e.foundGroup(slot)
	}
	if out.JoinGroup != nil && e.cfg.Groups.Enabled && e.alive(j) {
		// An unknown group is a refused request, not a broken engine.
		if _, err := e.immigrate(slot, *out.JoinGroup); err != nil {
			e.report.ImmigrationRejected++
		}
	}

	for _, g := range out.Offspring {
		// The parent's own slot may be the birth target.
		if !e.alive(j) {
			break
		}
		e.activateOffspring(slot, g)
	}

	if out.Died && e.alive(j) {
		e.kill(slot, CauseCPU)
	}
	return nil
}

// RunUpdate drives one full update: pre-update, steps until the cycle
// budget is spent, then post-update. The context is checked between
// batches only. A precondition error aborts the update.
func (e *Engine) RunUpdate(ctx context.Context) (UpdateReport, error) {
	if e.cpu == nil {
		return UpdateReport{}, simerr.New(simerr.CodeInvalidConfig, "no CPU attached")
	}
	e.ProcessPreUpdate()

	var spent int64
	for {
		if err := ctx.Err(); err != nil {
			return e.Report(), err
		}
		done, cycles, err := e.runBatch(ctx, spent)
		if err != nil {
			return e.Report(), fmt.Errorf("update %d: %w", e.Update(), err)
		}
		spent += cycles
		if done {
			break
		}
	}

	e.ProcessPostUpdate()
	return e.Report(), nil
}

// runBatch draws, executes and applies one batch of grants.
func (e *Engine) runBatch(ctx context.Context, spent int64) (done bool, cycles int64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	remaining := e.report.Budget - spent
	if remaining <= 0 {
		return true, 0, nil
	}

	e.perf.StartPhase(systems.PhaseSchedule)
	jobs, err := e.drawBatch(remaining)
	if err != nil {
		if simerr.GetCode(err) == simerr.CodeIdle {
			e.report.Idle = true
			return true, 0, nil
		}
		return true, 0, err
	}
	for _, j := range jobs {
		cycles += int64(j.grant.Cycles)
	}

	e.perf.StartPhase(systems.PhaseExecute)
	outs := e.executeBatch(ctx, jobs)

	e.perf.StartPhase(systems.PhaseApply)
	for i, j := range jobs {
		if err := e.applyOutcome(j, outs[i]); err != nil {
			return true, cycles, err
		}
	}
	return cycles >= remaining, cycles, nil
}

// drawBatch takes up to batch_size distinct slots from the scheduler,
// stopping once remaining cycles are covered. A slot drawn twice has its
// budgets merged, so every organism runs at most once per batch against
// a consistent snapshot.
func (e *Engine) drawBatch(remaining int64) ([]job, error) {
	limit := e.cfg.Scheduler.BatchSize
	jobs := make([]job, 0, limit)
	index := make(map[int]int, limit)

	var drawn int64
	for drawn < remaining {
		g, err := e.scheduler.Next()
		if err != nil {
			if len(jobs) > 0 && simerr.GetCode(err) == simerr.CodeIdle {
				break
			}
			return nil, err
		}
		drawn += int64(g.Cycles)
		if i, dup := index[g.Slot]; dup {
			jobs[i].grant.Cycles += g.Cycles
			continue
		}
		ent, ok := e.grid.Occupant(g.Slot)
		if !ok {
			return nil, invariantError("scheduled slot is empty", g.Slot)
		}
		index[g.Slot] = len(jobs)
		jobs = append(jobs, job{grant: g, entity: ent})
		if len(jobs) >= limit {
			break
		}
	}
	for i := range jobs {
		jobs[i].view = e.view(jobs[i].entity)
	}
	return jobs, nil
}

// executeBatch runs every job, on the worker pool when one is configured.
// Outcomes are returned in job order.
func (e *Engine) executeBatch(ctx context.Context, jobs []job) []Outcome {
	outs := make([]Outcome, len(jobs))
	if e.parallel == nil || len(jobs) < 2 {
		for i, j := range jobs {
			outs[i] = e.execute(ctx, j)
		}
		return outs
	}
	e.parallel.run(len(jobs), func(i int) {
		outs[i] = e.execute(ctx, jobs[i])
	})
	return outs
}

// ProcessPostUpdate ages organisms, advances the resource pool, runs stat
// providers, samples the trace queue and closes the update.
func (e *Engine) ProcessPostUpdate() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.perf.StartPhase(systems.PhaseAging)
	maxAge := e.cfg.CPU.MaxAge
	for _, slot := range e.grid.OccupiedSlots() {
		ent, _ := e.grid.Occupant(slot)
		pheno := e.phenoMap.Get(ent)
		pheno.Age++
		if maxAge > 0 && pheno.Age >= maxAge {
			e.kill(slot, CauseAge)
		}
	}

	e.perf.StartPhase(systems.PhaseResources)
	e.resources.Update()

	if len(e.providers) > 0 {
		e.perf.StartPhase(systems.PhaseStats)
		views := e.liveViews()
		for _, p := range e.providers {
			p.UpdateStart(e.update)
			for _, v := range views {
				p.Observe(v)
			}
			p.UpdateEnd(e.update)
		}
	}

	e.perf.StartPhase(systems.PhaseTrace)
	e.sampleTraces()

	e.report.Counts = e.counts
	e.update++
}

// Report returns the counters of the current or most recent update.
func (e *Engine) Report() UpdateReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.report
	r.Counts = e.counts
	return r
}
