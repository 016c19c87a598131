package ingest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"

	"poi-server/metrics"
	"poi-server/models"
	"poi-server/store"
)

type State string

const (
	StateIdle       State = "idle"
	StateChecking   State = "checking"
	StateLoading    State = "loading"
	StateFinalizing State = "finalizing"
	StateDone       State = "done"
	StateSkipped    State = "skipped"
	StateFailed     State = "failed"
)

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

type Options struct {
	Enabled    bool
	Version    string
	DataDir    string
	Source     string
	Transforms json.RawMessage
	Activate   bool
}

type Report struct {
	State      State
	Version    string
	SkipReason string
	Accepted   int
	Rejected   map[RejectReason]int
	Duration   time.Duration
}

func (r *Report) RejectedTotal() int {
	total := 0
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// Pipeline loads one dataset version into a store and optionally activates it. A Pipeline runs
// once; create a new one per run.
type Pipeline struct {
	store store.Store
	opts  Options
	state State

	now        func() time.Time
	openSource func(path string) (Source, error)
}

func NewPipeline(st store.Store, opts Options) *Pipeline {
	if opts.Source == "" {
		opts.Source = "seed-csv"
	}
	if len(opts.Transforms) == 0 {
		opts.Transforms = json.RawMessage("{}")
	}
	return &Pipeline{
		store: st,
		opts:  opts,
		state: StateIdle,
		now:   time.Now,
		openSource: func(path string) (Source, error) {
			return OpenCSVSource(path)
		},
	}
}

func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) transition(to State) {
	sigolo.Debugf("Ingestion of '%s': %s -> %s", p.opts.Version, p.state, to)
	p.state = to
}

// Run drives the pipeline to Done, Skipped or Failed. Skipped is not an error. On failure the
// transaction is rolled back and nothing becomes visible.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Version: p.opts.Version, Rejected: map[RejectReason]int{}}
	defer func() {
		report.State = p.state
		report.Duration = time.Since(start)
		metrics.IngestRunsTotal.WithLabelValues(string(p.state)).Inc()
	}()

	if p.state != StateIdle {
		return report, errors.Errorf("pipeline already ran (state %s)", p.state)
	}

	p.transition(StateChecking)
	path, reason, err := p.check(ctx)
	if err != nil {
		return report, p.fail(err)
	}
	if reason != "" {
		p.skip(report, reason)
		return report, nil
	}

	src, err := p.openSource(path)
	if err != nil {
		return report, p.fail(err)
	}
	defer src.Close()

	p.transition(StateLoading)
	tx, err := p.store.BeginIngest(ctx)
	if err != nil {
		return report, p.fail(err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				sigolo.Errorf("Rollback of ingestion '%s' failed: %v", p.opts.Version, err)
			}
		}
	}()

	// Another loader may have activated the version while we waited for the lock.
	active, err := tx.ActiveVersion(ctx)
	if err != nil {
		return report, p.fail(err)
	}
	if active == p.opts.Version {
		p.skip(report, "version became active while waiting for the ingest lock")
		return report, nil
	}

	if replaced, err := tx.DeleteVersionPOIs(ctx, p.opts.Version); err != nil {
		return report, p.fail(err)
	} else if replaced > 0 {
		sigolo.Infof("Replacing %d existing points of inactive version '%s'", replaced, p.opts.Version)
	}

	if err := p.load(ctx, tx, src, report); err != nil {
		return report, p.fail(err)
	}

	p.transition(StateFinalizing)
	if err := p.finalize(ctx, tx); err != nil {
		return report, p.fail(err)
	}
	if err := tx.Commit(); err != nil {
		return report, p.fail(err)
	}
	committed = true

	p.transition(StateDone)
	sigolo.Infof("Ingested version '%s': %d accepted, %d rejected (activated: %t)",
		p.opts.Version, report.Accepted, report.RejectedTotal(), p.opts.Activate)
	return report, nil
}

func (p *Pipeline) check(ctx context.Context) (path string, skipReason string, err error) {
	if !p.opts.Enabled {
		return "", "seeding disabled", nil
	}
	if p.opts.Version == "" {
		return "", "no version configured", nil
	}
	if len(p.opts.Version) > models.DataVersionMaxLength || !versionPattern.MatchString(p.opts.Version) {
		sigolo.Warnf("Version '%s' is not a valid dataset version name", p.opts.Version)
		return "", "invalid version name", nil
	}

	active, err := p.store.ActiveVersion(ctx)
	if err != nil {
		return "", "", errors.Wrap(err, "read active version")
	}
	if active == p.opts.Version {
		return "", "version already active", nil
	}

	path = BatchFilePath(p.opts.DataDir, p.opts.Version)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			sigolo.Warnf("Batch file %s not found, skipping ingestion", path)
			return "", "batch file not found", nil
		}
		return "", "", errors.Wrapf(err, "stat batch file %s", path)
	}
	return path, "", nil
}

func (p *Pipeline) load(ctx context.Context, tx store.IngestTx, src Source, report *Report) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch r := rec.(type) {
		case Accepted:
			err := tx.InsertPOI(ctx, models.PointOfInterest{
				ID:          uuid.New(),
				Name:        r.Name,
				Category:    r.Category,
				Location:    models.NewGeoPoint(r.Lon, r.Lat),
				UpdatedAt:   r.UpdatedAt,
				DataVersion: p.opts.Version,
			})
			if err != nil {
				return errors.Wrapf(err, "line %d", r.Line)
			}
			report.Accepted++
			metrics.IngestRecordsTotal.WithLabelValues("accepted").Inc()
		case Rejected:
			report.Rejected[r.Reason]++
			metrics.IngestRecordsTotal.WithLabelValues(string(r.Reason)).Inc()
			sigolo.Debugf("Skipping line %d of %s: %s %s", r.Line, src.Name(), r.Reason, r.Detail)
		default:
			return errors.Errorf("unexpected record type %T", rec)
		}
	}
}

func (p *Pipeline) finalize(ctx context.Context, tx store.IngestTx) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pulledAt := p.now().UTC()
	err := tx.UpsertVersion(ctx, models.DatasetVersion{
		Version:    p.opts.Version,
		Source:     truncate(p.opts.Source, models.SourceMaxLength),
		PulledAt:   &pulledAt,
		Transforms: p.opts.Transforms,
	})
	if err != nil {
		return err
	}
	if p.opts.Activate {
		if err := tx.SetActiveVersion(ctx, p.opts.Version); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (p *Pipeline) skip(report *Report, reason string) {
	report.SkipReason = reason
	sigolo.Infof("Ingestion of '%s' skipped: %s", p.opts.Version, reason)
	p.transition(StateSkipped)
}

func (p *Pipeline) fail(err error) error {
	p.transition(StateFailed)
	err = errors.Wrapf(err, "ingestion of '%s' failed", p.opts.Version)
	sigolo.Errorf("%v", err)
	return err
}

// truncate cuts s to at most n characters without splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := 0
	for i := range s {
		if runes == n {
			return s[:i]
		}
		runes++
	}
	return s
}
