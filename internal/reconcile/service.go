package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/apperr"
	"catalogsync/internal/batch"
	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/pricing"
	"catalogsync/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Deps struct {
	Feed       FeedSource
	Sink       OutputSink
	Remote     RemoteCatalog
	Prices     PriceSource
	Calculator *pricing.Calculator
	Registry   RegistrySyncer
	Alerter    Alerter
	Reporter   Reporter
	Store      *store.Store
	Logger     *logger.Logger

	// AlertThreshold is the price change, in percent, above which an alert fires.
	AlertThreshold decimal.Decimal
}

type Service struct {
	feed      FeedSource
	sink      OutputSink
	remote    RemoteCatalog
	prices    PriceSource
	calc      *pricing.Calculator
	registry  RegistrySyncer
	alerter   Alerter
	reporter  Reporter
	store     *store.Store
	logger    *logger.Logger
	threshold decimal.Decimal
	now       func() time.Time
}

func NewService(d Deps) *Service {
	return &Service{
		feed:      d.Feed,
		sink:      d.Sink,
		remote:    d.Remote,
		prices:    d.Prices,
		calc:      d.Calculator,
		registry:  d.Registry,
		alerter:   d.Alerter,
		reporter:  d.Reporter,
		store:     d.Store,
		logger:    d.Logger,
		threshold: d.AlertThreshold,
		now:       time.Now,
	}
}

// SyncCatalog pushes the delta between the feed and the saved baseline to
// the remote catalog. The baseline is read before the diff and rewritten only
// after the push, and only for entities that made it through; failed
// entities keep their old baseline entry so the next run retries them.
func (s *Service) SyncCatalog(ctx context.Context, opts Options) (Summary, error) {
	if s.feed == nil || s.sink == nil {
		return Summary{}, errors.New("catalog sync needs a feed source and an output sink")
	}
	sum := s.begin(KindCatalog, opts)
	sum.Source = s.feed.Name()
	log := s.logger.With("run_id", sum.RunID, "source", sum.Source)

	err := s.syncCatalog(ctx, opts, &sum, log)
	return s.finish(ctx, sum, err)
}

func (s *Service) syncCatalog(ctx context.Context, opts Options, sum *Summary, log *logger.Logger) error {
	current, err := s.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch feed %s: %w", sum.Source, err)
	}
	sum.Fetched = len(current)

	valid, invalid := catalog.Partition(current)
	sum.Invalid = len(invalid)
	for _, verr := range invalid {
		log.Warn("Skipping entity: %v", verr)
	}

	saved, found, err := s.store.LoadBaseline(ctx, sum.Source)
	if err != nil {
		return err
	}
	if !found {
		log.Info("No baseline for %s, treating every entity as new", sum.Source)
	}

	diff := catalog.Compare(valid, saved, opts.ForceFull || !found)
	sum.New, sum.Updated, sum.Removed = len(diff.New), len(diff.Updated), len(diff.Removed)
	sum.Unchanged = diff.UnchangedCount

	if opts.Verbose {
		for _, e := range diff.Changed() {
			log.Info("  %-8s %s (%d variations)", e.Action, e.SKU, len(e.Variations))
		}
	}

	if opts.writes() && len(invalid) > 0 {
		if err := s.store.RecordIssues(ctx, validationIssues(sum.RunID, invalid)); err != nil {
			log.Error("Failed to record validation issues: %v", err)
		}
	}

	if diff.Empty() {
		log.Info("Nothing changed since the last sync")
		return nil
	}
	if opts.CheckOnly {
		return nil
	}

	changed := diff.Changed()
	if opts.Limit > 0 && len(changed) > opts.Limit {
		sum.Deferred = len(changed) - opts.Limit
		changed = changed[:opts.Limit]
		log.Info("Limit %d reached, %d changes left for the next run", opts.Limit, sum.Deferred)
	}

	// Inactive mappings count too: a key that comes back reuses its remote entity.
	existing, err := s.store.LoadRemoteMap(ctx, false)
	if err != nil {
		return fmt.Errorf("failed to load remote mappings: %w", err)
	}

	res, err := s.sink.Push(ctx, changed, existing, batchOptions(opts))
	sum.Batch = res.Stats
	sum.Errors = res.Stats.Errors()
	if err != nil {
		if !opts.DryRun {
			// Entities the remote side already created must stay mapped.
			if merr := s.store.SaveRemoteMap(context.WithoutCancel(ctx), mappingsFor(res.Map, changed), variationParents(changed)); merr != nil {
				log.Error("Failed to save partial remote mappings: %v", merr)
			}
		}
		return fmt.Errorf("push interrupted: %w", err)
	}
	if opts.DryRun {
		return nil
	}
	// The push has happened; the local commit must not be abandoned halfway.
	ctx = context.WithoutCancel(ctx)

	failed := failedEntities(res.Failures)
	var succeeded, removed []catalog.Entity
	for _, e := range changed {
		if _, bad := failed[e.SKU]; bad {
			continue
		}
		succeeded = append(succeeded, e)
		if e.Action == catalog.ActionRemoved {
			removed = append(removed, e)
		}
	}

	return s.store.InTx(ctx, func(tx *store.Store) error {
		if err := tx.SaveDiff(ctx, sum.RunID, sum.Source, diffOf(changed)); err != nil {
			return err
		}
		// Mappings are kept even for failed entities: a parent created in this
		// run must not be created again by the next one.
		if err := tx.SaveRemoteMap(ctx, mappingsFor(res.Map, changed), variationParents(changed)); err != nil {
			return err
		}
		if err := tx.InvalidateMappings(ctx, catalog.Keys(removed)); err != nil {
			return err
		}
		for _, e := range succeeded {
			if err := tx.UpsertProduct(ctx, sum.Source, e); err != nil {
				return apperr.Persistence("mirror "+e.SKU, err)
			}
		}
		if err := tx.RecordIssues(ctx, batchIssues(sum.RunID, res.Failures)); err != nil {
			return err
		}
		if err := tx.SaveBaseline(ctx, sum.Source, sum.RunID, catalog.ApplyToBaseline(saved, succeeded)); err != nil {
			return err
		}
		return tx.AppendSyncLog(ctx, sum.RunID, models.SyncLogOriginCatalog, "", "run", sum)
	})
}

// SyncRegistry runs the SkuRegistry and reports it like any other run.
func (s *Service) SyncRegistry(ctx context.Context) (Summary, error) {
	sum := s.begin(KindRegistry, Options{})
	if s.registry == nil {
		return s.finish(ctx, sum, errors.New("no registry configured"))
	}
	res, err := s.registry.Sync(ctx)
	sum.Registry = &res
	sum.New, sum.Removed, sum.Unchanged = len(res.Added), len(res.Removed), res.Unchanged
	return s.finish(ctx, sum, err)
}

func (s *Service) begin(kind string, opts Options) Summary {
	return Summary{
		RunID:     uuid.New().String(),
		Kind:      kind,
		Options:   opts,
		StartedAt: s.now(),
	}
}

func (s *Service) finish(ctx context.Context, sum Summary, err error) (Summary, error) {
	sum.Duration = s.now().Sub(sum.StartedAt)
	if err != nil {
		sum.Error = err.Error()
	}
	metrics.ObserveRun(sum.Kind, err)

	if err != nil {
		s.logger.Warnw(sum.Kind+" sync failed", append(sum.fields(), "error", err.Error())...)
	} else {
		s.logger.Infow(sum.Kind+" sync finished", sum.fields()...)
	}

	if s.reporter != nil {
		if rerr := s.reporter.Report(context.WithoutCancel(ctx), sum); rerr != nil {
			s.logger.Warn("Failed to report %s run %s: %v", sum.Kind, sum.RunID, rerr)
		}
	}
	return sum, err
}

func batchOptions(opts Options) batch.PushOptions {
	return batch.PushOptions{DryRun: opts.DryRun}
}

func diffOf(changed []catalog.Entity) catalog.Diff {
	var d catalog.Diff
	for _, e := range changed {
		switch e.Action {
		case catalog.ActionNew:
			d.New = append(d.New, e)
		case catalog.ActionUpdated:
			d.Updated = append(d.Updated, e)
		case catalog.ActionRemoved:
			d.Removed = append(d.Removed, e)
		}
	}
	return d
}

// failedEntities returns the keys of entities with any failure, their own or
// one of their variations'.
func failedEntities(failures []batch.Failure) map[string]struct{} {
	out := make(map[string]struct{}, len(failures))
	for _, f := range failures {
		key := f.Key
		if f.Kind == batch.KindVariation {
			key = f.ParentKey
		}
		out[key] = struct{}{}
	}
	return out
}

// mappingsFor picks the entries of m that belong to entities.
func mappingsFor(m batch.RemoteMap, entities []catalog.Entity) batch.RemoteMap {
	out := batch.NewRemoteMap()
	for _, e := range entities {
		if id, ok := m.Entities[e.SKU]; ok {
			out.Entities[e.SKU] = id
		}
		for _, v := range e.Variations {
			if id, ok := m.Variations[v.Key]; ok {
				out.Variations[v.Key] = id
			}
		}
	}
	return out
}

func variationParents(entities []catalog.Entity) map[string]string {
	out := make(map[string]string)
	for _, e := range entities {
		for _, v := range e.Variations {
			out[v.Key] = e.SKU
		}
	}
	return out
}

func validationIssues(runID string, errs []error) []models.Issue {
	issues := make([]models.Issue, 0, len(errs))
	for _, err := range errs {
		sku := ""
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			sku = ve.Key
		}
		issues = append(issues, models.Issue{
			RunID:       runID,
			SKU:         sku,
			Code:        models.IssueCodeValidation,
			Severity:    models.IssueSeverityLow,
			Explanation: err.Error(),
		})
	}
	return issues
}

func batchIssues(runID string, failures []batch.Failure) []models.Issue {
	issues := make([]models.Issue, 0, len(failures))
	for _, f := range failures {
		issue := models.Issue{
			RunID:       runID,
			SKU:         f.Key,
			Code:        models.IssueCodeRemoteItem,
			Severity:    models.IssueSeverityMedium,
			Explanation: f.Err.Error(),
		}
		switch {
		case batch.IsChunkFailure(f):
			issue.Code = models.IssueCodeRemoteChunk
			issue.Severity = models.IssueSeverityHigh
		case f.Kind == batch.KindEntity && !isItemError(f.Err):
			issue.Code = models.IssueCodeParentMissing
			issue.Severity = models.IssueSeverityHigh
		}
		issues = append(issues, issue)
	}
	return issues
}

func isItemError(err error) bool {
	var ie *apperr.RemoteItemError
	return errors.As(err, &ie)
}
