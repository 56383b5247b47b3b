package reconcile

import (
	"time"

	"catalogsync/internal/batch"
	"catalogsync/internal/registry"
)

// Options are read by the entrypoint and passed in; the engine never parses flags.
type Options struct {
	DryRun    bool `json:"dry_run"`
	CheckOnly bool `json:"check_only"`
	ForceFull bool `json:"force_full"`
	Limit     int  `json:"limit"`
	Verbose   bool `json:"verbose"`
}

// writes reports whether the run may call write APIs or touch local state.
func (o Options) writes() bool {
	return !o.DryRun && !o.CheckOnly
}

const (
	KindCatalog  = "catalog"
	KindPrices   = "prices"
	KindRegistry = "registry"
)

// Summary is logged and reported at the end of every run, whatever the outcome.
type Summary struct {
	RunID     string        `json:"run_id"`
	Kind      string        `json:"kind"`
	Source    string        `json:"source,omitempty"`
	Options   Options       `json:"options"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Fetched   int `json:"fetched"`
	Invalid   int `json:"invalid"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
	Deferred  int `json:"deferred"`

	Tracked        int `json:"tracked,omitempty"`
	PriceChanges   int `json:"price_changes,omitempty"`
	PriceUnmatched int `json:"price_unmatched,omitempty"`
	Alerts         int `json:"alerts,omitempty"`
	// MirrorFailed counts remote price writes the local mirror did not record.
	MirrorFailed int `json:"mirror_failed,omitempty"`

	Registry *registry.Result `json:"registry,omitempty"`

	Batch  batch.Stats `json:"batch"`
	Errors int         `json:"errors"`
	Error  string      `json:"error,omitempty"`
}

func (s Summary) fields() []interface{} {
	return []interface{}{
		"run_id", s.RunID,
		"kind", s.Kind,
		"source", s.Source,
		"dry_run", s.Options.DryRun,
		"check_only", s.Options.CheckOnly,
		"new", s.New,
		"updated", s.Updated,
		"removed", s.Removed,
		"unchanged", s.Unchanged,
		"deferred", s.Deferred,
		"invalid", s.Invalid,
		"price_changes", s.PriceChanges,
		"alerts", s.Alerts,
		"mirror_failed", s.MirrorFailed,
		"requests", s.Batch.Requests,
		"errors", s.Errors,
		"duration", s.Duration.String(),
	}
}
