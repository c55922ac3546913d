package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cloo-solutions/ragchat/internal/database"
	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer represents a PostgreSQL container for testing
type PostgresContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
	User      string
	Password  string
	Database  string
}

// NewPostgresContainer creates and starts a PostgreSQL container with pgvector
func NewPostgresContainer(ctx context.Context, t *testing.T) *PostgresContainer {
	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:0.8.1-pg18",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ragchat",
			"POSTGRES_PASSWORD": "ragchat",
			"POSTGRES_DB":       "ragchat",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithStartupTimeout(60 * time.Second),
	}

	container := startContainer(ctx, t, req, "postgres")
	host, port := endpoint(ctx, t, container, "5432")

	return &PostgresContainer{
		Container: container,
		Host:      host,
		Port:      port,
		User:      "ragchat",
		Password:  "ragchat",
		Database:  "ragchat",
	}
}

// ConnectionString returns the PostgreSQL connection string
func (pc *PostgresContainer) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		pc.User, pc.Password, pc.Host, pc.Port, pc.Database)
}

// Terminate stops and removes the container
func (pc *PostgresContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(pc.Container)
}

// RustFSContainer is an S3-compatible object store for testing
type RustFSContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// NewRustFSContainer creates and starts a RustFS container
func NewRustFSContainer(ctx context.Context, t *testing.T) *RustFSContainer {
	req := testcontainers.ContainerRequest{
		Image:        "rustfs/rustfs:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"RUSTFS_ACCESS_KEY": "rustfsadmin",
			"RUSTFS_SECRET_KEY": "rustfsadmin",
		},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(30 * time.Second),
	}

	container := startContainer(ctx, t, req, "rustfs")
	host, port := endpoint(ctx, t, container, "9000")

	return &RustFSContainer{Container: container, Host: host, Port: port}
}

// Endpoint returns the RustFS endpoint URL
func (rc *RustFSContainer) Endpoint() string {
	return fmt.Sprintf("http://%s:%s", rc.Host, rc.Port)
}

// Terminate stops and removes the container
func (rc *RustFSContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(rc.Container)
}

// AzuriteAccountKey is the well-known development key of the Azurite emulator.
const AzuriteAccountKey = "Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw=="

// AzuriteContainer runs the Azure Blob storage emulator
type AzuriteContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// NewAzuriteContainer creates and starts an Azurite blob service
func NewAzuriteContainer(ctx context.Context, t *testing.T) *AzuriteContainer {
	req := testcontainers.ContainerRequest{
		Image:        "mcr.microsoft.com/azure-storage/azurite:latest",
		Cmd:          []string{"azurite-blob", "--blobHost", "0.0.0.0", "--skipApiVersionCheck"},
		ExposedPorts: []string{"10000/tcp"},
		WaitingFor:   wait.ForListeningPort("10000/tcp").WithStartupTimeout(60 * time.Second),
	}

	container := startContainer(ctx, t, req, "azurite")
	host, port := endpoint(ctx, t, container, "10000")

	return &AzuriteContainer{Container: container, Host: host, Port: port}
}

// ConnectionString returns a storage connection string for the emulator
func (ac *AzuriteContainer) ConnectionString() string {
	return fmt.Sprintf(
		"DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=%s;BlobEndpoint=http://%s:%s/devstoreaccount1;",
		AzuriteAccountKey, ac.Host, ac.Port)
}

// Terminate stops and removes the container
func (ac *AzuriteContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(ac.Container)
}

// ElasticsearchContainer runs a single-node Elasticsearch without security
type ElasticsearchContainer struct {
	Container testcontainers.Container
	Host      string
	Port      string
}

// NewElasticsearchContainer creates and starts Elasticsearch 8
func NewElasticsearchContainer(ctx context.Context, t *testing.T) *ElasticsearchContainer {
	req := testcontainers.ContainerRequest{
		Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.15.3",
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":         "single-node",
			"xpack.security.enabled": "false",
			"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health").WithPort("9200/tcp").WithStartupTimeout(120 * time.Second),
	}

	container := startContainer(ctx, t, req, "elasticsearch")
	host, port := endpoint(ctx, t, container, "9200")

	return &ElasticsearchContainer{Container: container, Host: host, Port: port}
}

// URL returns the HTTP address of the node
func (ec *ElasticsearchContainer) URL() string {
	return fmt.Sprintf("http://%s:%s", ec.Host, ec.Port)
}

// Terminate stops and removes the container
func (ec *ElasticsearchContainer) Terminate(ctx context.Context) error {
	return testcontainers.TerminateContainer(ec.Container)
}

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, name string) testcontainers.Container {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to create %s container: %v", name, err)
	}
	return container
}

func endpoint(ctx context.Context, t *testing.T, container testcontainers.Container, port string) (string, string) {
	t.Helper()
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}
	return host, mapped.Port()
}

// NewTestPool creates a pgxpool connected to the test container and runs migrations
func NewTestPool(ctx context.Context, t *testing.T, pc *PostgresContainer) *pgxpool.Pool {
	pool, err := database.NewPool(ctx, database.Config{
		URL:            pc.ConnectionString(),
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}

	if err := database.Migrate(pc.ConnectionString(), nil); err != nil {
		pool.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return pool
}

// TruncateAll truncates all tables in the database for test isolation
func TruncateAll(ctx context.Context, pool *pgxpool.Pool) error {
	tables := []string{
		"index_entries",
		"indexer_runs",
		"search_assets",
	}

	for _, table := range tables {
		_, err := pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}

	return nil
}
