// Package coordinator drives one import run end to end: scoped access,
// password service discovery and fetch, the coordinated read, and the single
// or archive import, ending with a guaranteed release of the access grant
// and one completion notification.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sensiblebit/keyshare/internal/access"
	"github.com/sensiblebit/keyshare/internal/archive"
	"github.com/sensiblebit/keyshare/internal/importer"
	"github.com/sensiblebit/keyshare/internal/metrics"
	"github.com/sensiblebit/keyshare/internal/provider"
)

// Resource is an acquired access grant to one resource.
type Resource interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
	Release() error
}

// Access grants scoped access to resources.
type Access interface {
	Acquire(ctx context.Context, locator string) (Resource, error)
}

// PasswordConn is a connection to a password service serving one fetch.
type PasswordConn interface {
	FetchPassword(ctx context.Context) (provider.Secret, error)
	Close() error
}

// PasswordSource discovers and connects to a resource's password service.
type PasswordSource interface {
	Discover(ctx context.Context, locator string) (provider.Service, error)
	Connect(ctx context.Context, svc provider.Service, resource string) (PasswordConn, error)
}

// Importer imports one container and classifies the result.
type Importer interface {
	Import(ctx context.Context, name string, data []byte, password string) importer.Outcome
}

// Config wires a Coordinator to its collaborators. Access, Passwords and
// Importer are required.
type Config struct {
	Access    Access
	Passwords PasswordSource
	Importer  Importer

	// Limits bounds archive expansion. The zero value uses
	// archive.DefaultLimits.
	Limits archive.Limits

	// OnComplete is invoked once after every run, after the access grant
	// has been released.
	OnComplete func()

	Metrics *metrics.Metrics
}

// Coordinator runs imports. It does not serialize concurrent runs; callers
// issue one run at a time.
type Coordinator struct {
	access     Access
	passwords  PasswordSource
	importer   Importer
	limits     archive.Limits
	onComplete func()
	metrics    *metrics.Metrics
}

// New returns a Coordinator for cfg.
func New(cfg Config) *Coordinator {
	limits := cfg.Limits
	if limits == (archive.Limits{}) {
		limits = archive.DefaultLimits()
	}
	return &Coordinator{
		access:     cfg.Access,
		passwords:  cfg.Passwords,
		importer:   cfg.Importer,
		limits:     limits,
		onComplete: cfg.OnComplete,
		metrics:    cfg.Metrics,
	}
}

// Result is the outcome of one run.
type Result struct {
	RunID   string
	Locator string
	Name    string

	// State is StageCompleted or StageFailed.
	State Stage
	// Err is a *StageError when State is StageFailed.
	Err error

	// Outcomes has one element per processed container, in enumeration
	// order.
	Outcomes []importer.Outcome

	// Trace lists the stages entered, ending with the terminal state.
	Trace []Stage

	// Truncated is set when an archive limit or a corrupt archive stream
	// stopped enumeration early.
	Truncated bool
}

// Counts tallies the outcomes by kind.
func (r Result) Counts() (imported, duplicates, failed int) {
	for _, o := range r.Outcomes {
		switch o.Kind {
		case importer.Imported:
			imported++
		case importer.DuplicateSkipped:
			duplicates++
		case importer.Failed:
			failed++
		}
	}
	return imported, duplicates, failed
}

func (r *Result) enter(s Stage) {
	r.Trace = append(r.Trace, s)
}

func (r *Result) fail(stage Stage, reason, err error) {
	r.State = StageFailed
	r.Err = &StageError{Stage: stage, Reason: reason, Err: err}
	r.enter(StageFailed)
}

// Go starts a run in the background. The channel receives the result once
// the run has released its grant and notified, then closes.
func (c *Coordinator) Go(ctx context.Context, locator string) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- c.Run(ctx, locator)
	}()
	return ch
}

// Run imports the resource at locator. The access grant, once acquired, is
// released exactly once on every path before OnComplete fires.
func (c *Coordinator) Run(ctx context.Context, locator string) (res Result) {
	start := time.Now()
	res = Result{
		RunID:   uuid.NewString(),
		Locator: locator,
		Name:    filepath.Base(locator),
	}
	logger := slog.With("run", res.RunID)

	// Deferred first so it runs last, after the release below.
	defer c.finish(logger, &res, start)

	res.enter(StageAcquiringAccess)
	logger.Debug("acquiring access", "locator", locator)
	grant, err := c.access.Acquire(ctx, locator)
	if err != nil {
		res.fail(StageAcquiringAccess, ErrAccessDenied, err)
		return res
	}
	defer release(logger, grant)
	res.Name = grant.Name()

	password, ok := c.fetchPassword(ctx, logger, &res, locator)
	if !ok {
		return res
	}

	res.enter(StageReadingResource)
	data, err := grant.Read(ctx)
	if err != nil {
		res.fail(StageReadingResource, ErrReadError, err)
		return res
	}

	if format := archive.FormatOf(res.Name); format != "" {
		c.importArchive(ctx, logger, &res, format, data, password)
	} else {
		res.enter(StageSingleImport)
		res.Outcomes = []importer.Outcome{c.importer.Import(ctx, res.Name, data, password.Reveal())}
	}
	if res.State != StageFailed {
		res.State = StageCompleted
		res.enter(StageCompleted)
	}
	return res
}

// fetchPassword runs discovery, connection and the fetch. The connection is
// closed as soon as the fetch returns.
func (c *Coordinator) fetchPassword(ctx context.Context, logger *slog.Logger, res *Result, locator string) (provider.Secret, bool) {
	res.enter(StageDiscoveringService)
	svc, err := c.passwords.Discover(ctx, locator)
	if err != nil {
		res.fail(StageDiscoveringService, ErrServiceUnavailable, err)
		return provider.Secret{}, false
	}
	logger.Debug("selected password service", "service", svc.Name, "provider", svc.Provider)

	res.enter(StageConnecting)
	conn, err := c.passwords.Connect(ctx, svc, locator)
	if err != nil {
		reason := ErrConnection
		if errors.Is(err, provider.ErrProtocolUnsupported) {
			reason = ErrProtocolUnsupported
		}
		res.fail(StageConnecting, reason, err)
		return provider.Secret{}, false
	}

	res.enter(StageFetchingPassword)
	password, err := conn.FetchPassword(ctx)
	if closeErr := conn.Close(); closeErr != nil {
		logger.Warn("closing password connection", "service", svc.Name, "error", closeErr)
	}
	if err == nil && !password.Valid() {
		err = provider.ErrNoPassword
	}
	if err != nil {
		res.fail(StageFetchingPassword, ErrPasswordUnavailable, err)
		return provider.Secret{}, false
	}
	return password, true
}

// importArchive imports every entry in stored order. Entry failures are
// recorded as outcomes and never stop the batch.
func (c *Coordinator) importArchive(ctx context.Context, logger *slog.Logger, res *Result, format string, data []byte, password provider.Secret) {
	res.enter(StageArchiveImport)
	it, err := archive.Open(format, data, c.limits)
	if err != nil {
		res.fail(StageArchiveImport, ErrNotAnArchive, err)
		return
	}
	defer func() {
		if err := it.Close(); err != nil {
			logger.Warn("closing archive", "error", err)
		}
	}()

	for it.Next() {
		entry := it.Entry()
		if entry.Err != nil {
			logger.Warn("skipping unreadable archive entry", "entry", entry.Name, "error", entry.Err)
			res.Outcomes = append(res.Outcomes, importer.FailedOutcome(entry.Name, importer.ReasonUnreadable))
			continue
		}
		res.Outcomes = append(res.Outcomes, c.importer.Import(ctx, entry.Name, entry.Data, password.Reveal()))
	}
	if err := it.Err(); err != nil {
		res.Truncated = true
		logger.Warn("archive enumeration stopped early", "entries", len(res.Outcomes), "error", err)
	}
}

func release(logger *slog.Logger, grant Resource) {
	if err := grant.Release(); err != nil {
		logger.Warn("releasing access grant", "error", err)
	}
}

// finish reports the run and fires the completion notification.
func (c *Coordinator) finish(logger *slog.Logger, res *Result, start time.Time) {
	if res.State != StageCompleted && res.State != StageFailed {
		// Unwound by a panic; the grant has already been released.
		res.State = StageFailed
	}

	imported, duplicates, failed := res.Counts()
	for _, o := range res.Outcomes {
		c.metrics.Outcome(o.Kind.String())
	}
	c.metrics.RunFinished(res.State.String(), time.Since(start))

	var se *StageError
	if errors.As(res.Err, &se) {
		c.metrics.StageFailed(se.Stage.String(), se.Reason.Error())
		logger.Warn("import failed", "locator", res.Locator, "stage", se.Stage, "error", res.Err)
	} else {
		logger.Info("import finished", "locator", res.Locator, "imported", imported, "duplicates", duplicates, "failed", failed, "truncated", res.Truncated)
	}

	if c.onComplete != nil {
		c.onComplete()
	}
}

// FileAccess grants access to local files through access.Acquire, with
// grants expiring after timeout.
func FileAccess(timeout time.Duration) Access {
	return fileAccess{timeout: timeout}
}

type fileAccess struct {
	timeout time.Duration
}

func (a fileAccess) Acquire(ctx context.Context, locator string) (Resource, error) {
	tok, err := access.Acquire(ctx, locator, a.timeout)
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ChannelSource adapts a provider.Channel to PasswordSource.
func ChannelSource(ch *provider.Channel) PasswordSource {
	return channelSource{ch: ch}
}

type channelSource struct {
	ch *provider.Channel
}

func (s channelSource) Discover(ctx context.Context, locator string) (provider.Service, error) {
	return s.ch.Discover(ctx, locator)
}

func (s channelSource) Connect(ctx context.Context, svc provider.Service, resource string) (PasswordConn, error) {
	conn, err := s.ch.Connect(ctx, svc, resource)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
