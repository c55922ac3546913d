package admin

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/cloo-solutions/ragchat/internal/azsearch"
	"github.com/cloo-solutions/ragchat/internal/azure"
	"github.com/cloo-solutions/ragchat/internal/config"
	"github.com/cloo-solutions/ragchat/internal/database"
	"github.com/cloo-solutions/ragchat/internal/elastic"
	"github.com/cloo-solutions/ragchat/internal/jobs"
	"github.com/cloo-solutions/ragchat/internal/localsearch"
	"github.com/cloo-solutions/ragchat/internal/openai"
	"github.com/cloo-solutions/ragchat/internal/pipeline"
	"github.com/cloo-solutions/ragchat/internal/redisstore"
	"github.com/cloo-solutions/ragchat/internal/repository"
	"github.com/cloo-solutions/ragchat/internal/service"
	"github.com/cloo-solutions/ragchat/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// objectStore is the storage surface used by provisioning and the local
// indexer pipeline.
type objectStore interface {
	service.ObjectStore
	pipeline.ObjectSource
}

// searchService is the admin and query surface of a search backend.
type searchService interface {
	service.SearchAdmin
	service.SearchBackend
}

type stackOptions struct {
	// Migrate applies the schema migrations when a database is configured.
	Migrate bool
}

// stack holds the backends selected by configuration.
type stack struct {
	cfg     *config.Config
	logger  *zap.Logger
	objects objectStore
	search  searchService
	local   *localsearch.Backend
	locker  service.Locker
	openai  *openai.Client

	pool    *pgxpool.Pool
	redis   *redis.Client
	closers []func()
}

func newStack(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts stackOptions) (*stack, error) {
	st := &stack{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			st.Close()
		}
	}()

	var cred azcore.TokenCredential
	if needsEntraID(cfg) {
		var err error
		if cred, err = azure.NewDefaultCredential(); err != nil {
			return nil, err
		}
		logger.Info("using Entra ID credentials")
	}

	if err := st.connectStores(ctx, opts); err != nil {
		return nil, err
	}

	oai, err := openai.NewAzureClient(openai.Config{
		Endpoint:            cfg.OpenAIEndpoint,
		APIKey:              cfg.OpenAIAPIKey,
		APIVersion:          cfg.OpenAIAPIVersion,
		ChatDeployment:      cfg.ChatDeployment,
		EmbeddingDeployment: cfg.EmbeddingDeployment,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		Credential:          cred,
		HTTPTimeout:         cfg.GenerationTimeout + cfg.RetrievalTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	st.openai = oai

	if st.objects, err = newObjectStore(ctx, cfg, cred); err != nil {
		return nil, err
	}
	if err = st.buildSearch(ctx, cred); err != nil {
		return nil, err
	}
	if st.locker, err = st.buildLocker(); err != nil {
		return nil, err
	}
	ok = true

	logger.Info("backends ready",
		zap.String("search", cfg.SearchBackend),
		zap.String("storage", cfg.StorageBackend),
		zap.String("lock", cfg.LockBackend),
		zap.String("container", st.objects.Container()))
	return st, nil
}

func needsEntraID(cfg *config.Config) bool {
	switch {
	case !cfg.UsesOpenAIAPIKey():
		return true
	case cfg.SearchBackend == config.SearchBackendAzure && !cfg.UsesSearchAPIKey():
		return true
	case cfg.StorageBackend == config.StorageBackendAzblob && cfg.StorageConnectionString == "":
		return true
	}
	return false
}

func (s *stack) connectStores(ctx context.Context, opts stackOptions) error {
	cfg := s.cfg
	if cfg.DatabaseURL != "" && s.needsDatabase() {
		if opts.Migrate {
			if err := database.Migrate(cfg.DatabaseURL, s.logger); err != nil {
				return err
			}
		}
		pool, err := database.NewPool(ctx, database.Config{
			URL:            cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			ConnectTimeout: cfg.DatabaseConnectTimeout,
			Logger:         s.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		s.pool = pool
		s.closers = append(s.closers, pool.Close)
		s.logger.Info("connected to database")
	}

	if cfg.RedisURL != "" {
		client, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		s.redis = client
		s.closers = append(s.closers, func() { _ = client.Close() })
		s.logger.Info("connected to redis")
	}
	return nil
}

func (s *stack) needsDatabase() bool {
	cfg := s.cfg
	return cfg.SearchBackend == config.SearchBackendPgvector ||
		cfg.LockBackend == config.LockBackendPostgres ||
		(cfg.SearchBackend == config.SearchBackendElastic && cfg.RedisURL == "")
}

func newObjectStore(ctx context.Context, cfg *config.Config, cred azcore.TokenCredential) (objectStore, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		return storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.ContainerName(),
			UsePathStyle:    cfg.S3UsePathStyle,
		})
	default:
		return storage.NewBlobClient(storage.BlobClientConfig{
			AccountURL:       cfg.StorageAccountURL,
			ConnectionString: cfg.StorageConnectionString,
			Container:        cfg.ContainerName(),
			Credential:       cred,
		})
	}
}

func (s *stack) buildSearch(ctx context.Context, cred azcore.TokenCredential) error {
	cfg := s.cfg
	switch cfg.SearchBackend {
	case config.SearchBackendPgvector:
		s.local = localsearch.NewBackend(
			repository.NewAssetRepository(s.pool),
			repository.NewIndexerRunRepository(s.pool),
			repository.NewEntryRepository(s.pool, cfg.VectorK),
		)
		s.search = s.local
	case config.SearchBackendElastic:
		es, err := elastic.NewClient(ctx, elastic.ClientConfig{
			URL:      cfg.ElasticsearchURL,
			Username: cfg.ElasticsearchUser,
			Password: cfg.ElasticsearchPass,
		})
		if err != nil {
			return err
		}
		entries := elastic.NewIndex(es, cfg.VectorK)
		if s.pool != nil {
			s.local = localsearch.NewBackend(repository.NewAssetRepository(s.pool), repository.NewIndexerRunRepository(s.pool), entries)
		} else {
			store := redisstore.NewStore(s.redis)
			s.local = localsearch.NewBackend(store, store, entries)
		}
		s.search = s.local
	default:
		client, err := azsearch.NewClient(azsearch.Config{
			Endpoint:   cfg.SearchEndpoint,
			APIVersion: cfg.SearchAPIVersion,
			APIKey:     cfg.SearchAPIKey,
			Credential: cred,
			VectorK:    cfg.VectorK,
		})
		if err != nil {
			return err
		}
		s.search = client
	}
	return nil
}

func (s *stack) buildLocker() (service.Locker, error) {
	switch s.cfg.LockBackend {
	case config.LockBackendRedis:
		return redisstore.NewLock(s.redis), nil
	case config.LockBackendPostgres:
		return repository.NewAdvisoryLock(s.pool), nil
	default:
		return service.NewMemoryLocker(), nil
	}
}

func (s *stack) provisioner() *service.Provisioner {
	return service.NewProvisioner(s.objects, s.search, s.locker, service.ProvisionerConfig{
		UploadConcurrency: s.cfg.UploadConcurrency,
	}, s.logger.Named("provisioner"))
}

// indexerWorker returns the worker executing queued runs of the self-hosted
// backend, or nil when Azure AI Search runs the indexer.
func (s *stack) indexerWorker() *jobs.Worker {
	if s.local == nil {
		return nil
	}
	logger := s.logger.Named("indexer")
	executor := pipeline.NewIndexer(
		s.objects,
		pipeline.NewDocconvExtractor(false),
		s.openai,
		s.local.Entries(),
		s.cfg.IndexerConcurrency,
		logger,
	)
	return jobs.NewWorker("indexer", jobs.NewIndexerWorker(s.local, executor, logger), s.cfg.IndexerPollInterval, logger)
}

// Close releases connections in reverse order of creation.
func (s *stack) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
