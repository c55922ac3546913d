package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/storage"
	"github.com/cloo-solutions/ragchat/internal/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStepRetries       = 4
	defaultStepRetryInterval = time.Second
	defaultUploadConcurrency = 4
	defaultLockTTL           = 30 * time.Minute
	defaultWaitInterval      = 5 * time.Second

	lockPrefix = "provision:"
)

// Step actions reported by a provisioning run.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ObjectStore is the storage container receiving source documents.
type ObjectStore interface {
	Container() string
	EnsureContainer(ctx context.Context) error
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
}

// SearchAdmin manages search assets and indexer runs.
type SearchAdmin interface {
	GetIndex(ctx context.Context, name string) (*domain.IndexDefinition, error)
	PutIndex(ctx context.Context, def *domain.IndexDefinition) error
	GetDataSource(ctx context.Context, name string) (*domain.DataSourceDefinition, error)
	PutDataSource(ctx context.Context, def *domain.DataSourceDefinition) error
	GetSkillset(ctx context.Context, name string) (*domain.SkillsetDefinition, error)
	PutSkillset(ctx context.Context, def *domain.SkillsetDefinition) error
	GetIndexer(ctx context.Context, name string) (*domain.IndexerDefinition, error)
	PutIndexer(ctx context.Context, def *domain.IndexerDefinition) error
	RunIndexer(ctx context.Context, name string) error
	ResetIndexer(ctx context.Context, name string) error
	IndexerStatus(ctx context.Context, name string) (*domain.IndexerStatus, error)
}

// ProvisionerConfig tunes retries and concurrency.
type ProvisionerConfig struct {
	UploadConcurrency int
	StepRetries       uint64
	RetryInterval     time.Duration
	LockTTL           time.Duration
}

// ProvisionInput describes one provisioning run.
type ProvisionInput struct {
	// SourceDir holds the documents to upload. Empty skips the upload step.
	SourceDir string
	Assets    *domain.SearchAssets
	// SkipRun applies the definitions without triggering the indexer.
	SkipRun bool
}

// ProvisionReport summarises what a provisioning run did.
type ProvisionReport struct {
	Index        string `json:"index"`
	Uploaded     int    `json:"uploaded"`
	IndexAction  string `json:"index_action"`
	DataSource   string `json:"data_source_action"`
	Skillset     string `json:"skillset_action"`
	Indexer      string `json:"indexer_action"`
	RunTriggered bool   `json:"run_triggered"`
	RunSkipped   bool   `json:"run_skipped"`
	// Since identifies the run that finished before this one was requested.
	Since RunBaseline `json:"-"`
}

// RunBaseline identifies the last finished indexer run seen before a new run
// was requested, so a waiter does not mistake it for the outcome of the new one.
// The zero value accepts any finished run.
type RunBaseline struct {
	Finished  bool
	ID        string
	StartTime *time.Time
}

func baselineOf(status *domain.IndexerStatus) RunBaseline {
	if status == nil || status.LastResult == nil || status.Running() {
		return RunBaseline{}
	}
	return RunBaseline{Finished: true, ID: status.LastResult.ID, StartTime: status.LastResult.StartTime}
}

// supersededBy reports whether r is known to be a later run than the baseline.
func (b RunBaseline) supersededBy(r *domain.IndexerExecutionResult) bool {
	switch {
	case !b.Finished:
		return true
	case r == nil:
		return false
	case b.ID != "" && r.ID != "":
		return r.ID != b.ID
	case b.StartTime != nil && r.StartTime != nil:
		return r.StartTime.After(*b.StartTime)
	}
	return false
}

// Provisioner populates the knowledge store: uploads documents, applies the
// search asset definitions and triggers the indexer.
type Provisioner struct {
	objects ObjectStore
	search  SearchAdmin
	locker  Locker
	cfg     ProvisionerConfig
	logger  *zap.Logger
}

func NewProvisioner(objects ObjectStore, search SearchAdmin, locker Locker, cfg ProvisionerConfig, logger *zap.Logger) *Provisioner {
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = defaultUploadConcurrency
	}
	if cfg.StepRetries == 0 {
		cfg.StepRetries = defaultStepRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultStepRetryInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provisioner{objects: objects, search: search, locker: locker, cfg: cfg, logger: logger}
}

// Provision runs every step in order. Each step is retried on transient
// failures only, and re-running with unchanged input leaves the same assets
// in place. Concurrent runs for the same index fail with
// PROVISION_IN_PROGRESS; an indexer run already in progress is not
// re-triggered and is reported as skipped.
func (p *Provisioner) Provision(ctx context.Context, in ProvisionInput) (*ProvisionReport, error) {
	if in.Assets == nil {
		return nil, domain.ErrMissingRequiredField.WithCause(errors.New("assets"))
	}
	a := in.Assets
	if err := a.Validate(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartTransaction(ctx, "provision "+a.Index.Name, "provision")
	defer span.End()

	release, err := p.lock(ctx, a.Index.Name)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	defer release()

	report, err := p.provision(ctx, in)
	if err != nil {
		span.SetError(err)
		return report, err
	}
	return report, nil
}

func (p *Provisioner) provision(ctx context.Context, in ProvisionInput) (*ProvisionReport, error) {
	a := in.Assets
	report := &ProvisionReport{Index: a.Index.Name}
	logger := p.logger.With(zap.String("index", a.Index.Name))

	if in.SourceDir != "" {
		n, err := p.uploadDocuments(ctx, in.SourceDir, a.DataSource.Container)
		report.Uploaded = n
		if err != nil {
			return report, err
		}
		logger.Info("documents uploaded", zap.Int("count", n))
	}

	var err error
	if report.IndexAction, err = p.applyIndex(ctx, &a.Index); err != nil {
		return report, err
	}
	logger.Info("index applied", zap.String("action", report.IndexAction))

	if report.DataSource, err = p.applyDataSource(ctx, &a.DataSource); err != nil {
		return report, err
	}
	logger.Info("data source applied", zap.String("name", a.DataSource.Name), zap.String("action", report.DataSource))

	if a.Indexer.SkillsetName != "" {
		if report.Skillset, err = p.applySkillset(ctx, &a.Skillset, a.Index.Name); err != nil {
			return report, err
		}
		logger.Info("skillset applied", zap.String("name", a.Skillset.Name), zap.String("action", report.Skillset))
	}

	if report.Indexer, err = p.applyIndexer(ctx, &a.Indexer); err != nil {
		return report, err
	}
	logger.Info("indexer applied", zap.String("name", a.Indexer.Name), zap.String("action", report.Indexer))

	if in.SkipRun {
		return report, nil
	}
	triggered, since, err := p.TriggerRun(ctx, a.Indexer.Name)
	if err != nil {
		return report, err
	}
	report.Since = since
	report.RunTriggered = triggered
	report.RunSkipped = !triggered
	return report, nil
}

func (p *Provisioner) lock(ctx context.Context, index string) (func(), error) {
	name := lockPrefix + index
	ok, err := p.locker.Acquire(ctx, name, p.cfg.LockTTL)
	if err != nil {
		return nil, domain.ErrServiceUnavailable.WithCause(fmt.Errorf("acquire provisioning lock: %w", err))
	}
	if !ok {
		return nil, domain.ErrProvisionInProgress.WithCause(fmt.Errorf("index %s", index))
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.locker.Release(releaseCtx, name); err != nil {
			p.logger.Warn("failed to release provisioning lock", zap.String("lock", name), zap.Error(err))
		}
	}, nil
}

// retry runs op until it succeeds, fails permanently or the retry budget is
// spent. Only SERVICE_UNAVAILABLE failures are retried.
func (p *Provisioner) retry(ctx context.Context, step string, op func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(policy, p.cfg.StepRetries), ctx)

	telemetry.AddBreadcrumb(ctx, "provision", step)
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err == nil || domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		p.logger.Warn("provisioning step failed, retrying",
			zap.String("step", step), zap.Error(err), zap.Duration("backoff", wait))
	})
}

func (p *Provisioner) uploadDocuments(ctx context.Context, dir string, container domain.DataSourceContainer) (int, error) {
	if container.Name != p.objects.Container() {
		return 0, domain.ErrInvalidDefinition.WithCause(fmt.Errorf("data source container %q does not match storage container %q", container.Name, p.objects.Container()))
	}

	files, err := listDocuments(dir)
	if err != nil {
		return 0, err
	}

	if err := p.retry(ctx, "ensure container", p.objects.EnsureContainer); err != nil {
		return 0, err
	}

	var uploaded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.UploadConcurrency)
	for _, rel := range files {
		key := path.Join(strings.Trim(container.Query, "/"), rel)
		local := filepath.Join(dir, filepath.FromSlash(rel))
		g.Go(func() error {
			err := p.retry(gctx, "upload", func(ctx context.Context) error {
				return p.uploadFile(ctx, local, key)
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", rel, err)
			}
			uploaded.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(uploaded.Load()), err
}

func (p *Provisioner) uploadFile(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return domain.ErrStorageOperation.WithCause(err)
	}
	defer f.Close()
	return p.objects.Upload(ctx, key, f, storage.ContentTypeFor(key))
}

// listDocuments returns the slash-separated paths of the regular files under
// dir, skipping hidden files and directories.
func listDocuments(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, domain.ErrStorageOperation.WithCause(fmt.Errorf("read source directory: %w", err))
	}
	return files, nil
}

func (p *Provisioner) applyIndex(ctx context.Context, def *domain.IndexDefinition) (string, error) {
	action := ActionUpdated
	err := p.retry(ctx, "get index", func(ctx context.Context) error {
		existing, err := p.search.GetIndex(ctx, def.Name)
		if errors.Is(err, domain.ErrIndexNotFound) {
			action = ActionCreated
			return nil
		}
		if err != nil {
			return err
		}
		return def.CheckCompatible(existing)
	})
	if err != nil {
		return "", err
	}
	return action, p.retry(ctx, "put index", func(ctx context.Context) error {
		return p.search.PutIndex(ctx, def)
	})
}

func (p *Provisioner) applyDataSource(ctx context.Context, def *domain.DataSourceDefinition) (string, error) {
	action, err := p.actionFor(ctx, "get data source", domain.ErrDataSourceNotFound, func(ctx context.Context) error {
		_, err := p.search.GetDataSource(ctx, def.Name)
		return err
	})
	if err != nil {
		return "", err
	}
	return action, p.retry(ctx, "put data source", func(ctx context.Context) error {
		return p.search.PutDataSource(ctx, def)
	})
}

func (p *Provisioner) applySkillset(ctx context.Context, def *domain.SkillsetDefinition, index string) (string, error) {
	if err := p.requireIndex(ctx, index); err != nil {
		return "", fmt.Errorf("skillset %s: %w", def.Name, err)
	}
	action, err := p.actionFor(ctx, "get skillset", domain.ErrSkillsetNotFound, func(ctx context.Context) error {
		_, err := p.search.GetSkillset(ctx, def.Name)
		return err
	})
	if err != nil {
		return "", err
	}
	return action, p.retry(ctx, "put skillset", func(ctx context.Context) error {
		return p.search.PutSkillset(ctx, def)
	})
}

func (p *Provisioner) applyIndexer(ctx context.Context, def *domain.IndexerDefinition) (string, error) {
	if err := p.requireIndex(ctx, def.TargetIndexName); err != nil {
		return "", fmt.Errorf("indexer %s: %w", def.Name, err)
	}
	err := p.retry(ctx, "get data source", func(ctx context.Context) error {
		_, err := p.search.GetDataSource(ctx, def.DataSourceName)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("indexer %s: %w", def.Name, err)
	}
	if def.SkillsetName != "" {
		err := p.retry(ctx, "get skillset", func(ctx context.Context) error {
			_, err := p.search.GetSkillset(ctx, def.SkillsetName)
			return err
		})
		if err != nil {
			return "", fmt.Errorf("indexer %s: %w", def.Name, err)
		}
	}

	action, err := p.actionFor(ctx, "get indexer", domain.ErrIndexerNotFound, func(ctx context.Context) error {
		_, err := p.search.GetIndexer(ctx, def.Name)
		return err
	})
	if err != nil {
		return "", err
	}
	return action, p.retry(ctx, "put indexer", func(ctx context.Context) error {
		return p.search.PutIndexer(ctx, def)
	})
}

func (p *Provisioner) requireIndex(ctx context.Context, name string) error {
	return p.retry(ctx, "get index", func(ctx context.Context) error {
		_, err := p.search.GetIndex(ctx, name)
		return err
	})
}

// actionFor reports whether a PUT will create or update the resource checked by get.
func (p *Provisioner) actionFor(ctx context.Context, step string, notFound error, get func(ctx context.Context) error) (string, error) {
	action := ActionUpdated
	err := p.retry(ctx, step, func(ctx context.Context) error {
		err := get(ctx)
		if errors.Is(err, notFound) {
			action = ActionCreated
			return nil
		}
		return err
	})
	return action, err
}

// TriggerRun starts an indexer run unless one is already in progress. It
// reports whether a run was started, a busy indexer not being an error, and
// the baseline to hand to WaitForIndexer.
func (p *Provisioner) TriggerRun(ctx context.Context, indexer string) (bool, RunBaseline, error) {
	status, err := p.IndexerStatus(ctx, indexer)
	if err != nil {
		return false, RunBaseline{}, err
	}
	if status.Running() {
		p.logger.Info("indexer run in progress, not triggering", zap.String("indexer", indexer))
		return false, RunBaseline{}, nil
	}
	since := baselineOf(status)

	err = p.retry(ctx, "run indexer", func(ctx context.Context) error {
		return p.search.RunIndexer(ctx, indexer)
	})
	if errors.Is(err, domain.ErrIndexerBusy) {
		// Someone else started a run after our status read.
		p.logger.Info("indexer busy, run skipped", zap.String("indexer", indexer))
		return false, since, nil
	}
	if err != nil {
		return false, RunBaseline{}, err
	}
	p.logger.Info("indexer run triggered", zap.String("indexer", indexer))
	return true, since, nil
}

// ResetIndexer clears the change tracking state of an indexer so the next
// run processes every document.
func (p *Provisioner) ResetIndexer(ctx context.Context, indexer string) error {
	return p.retry(ctx, "reset indexer", func(ctx context.Context) error {
		return p.search.ResetIndexer(ctx, indexer)
	})
}

func (p *Provisioner) IndexerStatus(ctx context.Context, indexer string) (*domain.IndexerStatus, error) {
	var status *domain.IndexerStatus
	err := p.retry(ctx, "indexer status", func(ctx context.Context) error {
		s, err := p.search.IndexerStatus(ctx, indexer)
		if err != nil {
			return err
		}
		status = s
		return nil
	})
	return status, err
}

// WaitForIndexer polls the indexer until a run newer than since succeeds or
// fails. A run seen in progress counts as newer once it finishes. A failed run
// returns INDEXER_FAILED with the service's error message; it is never
// re-triggered.
func (p *Provisioner) WaitForIndexer(ctx context.Context, indexer string, since RunBaseline, interval time.Duration) (*domain.IndexerStatus, error) {
	if interval <= 0 {
		interval = defaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := p.IndexerStatus(ctx, indexer)
		if err != nil {
			return nil, err
		}
		if status.Running() {
			since = RunBaseline{}
		}
		switch {
		case !since.supersededBy(status.LastResult):
			p.logger.Debug("indexer still reports the previous run", zap.String("indexer", indexer))
		case status.Succeeded():
			return status, nil
		case status.Failed():
			return status, domain.ErrIndexerFailed.WithCause(fmt.Errorf("indexer %s: %s", indexer, status.LastResult.ErrorMessage))
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}
