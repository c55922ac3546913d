package service

import (
	"context"
	"io"
	"sync"

	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/openai"
	"github.com/stretchr/testify/mock"
)

// MockSearchBackend is a mock implementation of SearchBackend
type MockSearchBackend struct {
	mock.Mock
}

func (m *MockSearchBackend) Search(ctx context.Context, req domain.SearchRequest) ([]domain.ScoredEntry, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScoredEntry), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockChatCompleter is a mock implementation of ChatCompleter
type MockChatCompleter struct {
	mock.Mock
}

func (m *MockChatCompleter) Complete(ctx context.Context, messages []domain.ChatMessage, opts openai.CompletionOptions) (*domain.Answer, error) {
	args := m.Called(ctx, messages, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Answer), args.Error(1)
}

// funcCompleter answers with fn, for tests that need to block or count calls.
type funcCompleter struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, messages []domain.ChatMessage) (*domain.Answer, error)
}

func (f *funcCompleter) Complete(ctx context.Context, messages []domain.ChatMessage, _ openai.CompletionOptions) (*domain.Answer, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call, messages)
}

func (f *funcCompleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memSearchAdmin is an in-memory search service.
type memSearchAdmin struct {
	mu          sync.Mutex
	indexes     map[string]domain.IndexDefinition
	dataSources map[string]domain.DataSourceDefinition
	skillsets   map[string]domain.SkillsetDefinition
	indexers    map[string]domain.IndexerDefinition
	status      map[string]*domain.IndexerStatus
	runs        map[string]int
	puts        int
	// statusLag keeps the previous result visible after RunIndexer.
	statusLag bool

	// failures makes the next n calls of an operation fail with the given error.
	failures map[string][]error
}

func newMemSearchAdmin() *memSearchAdmin {
	return &memSearchAdmin{
		indexes:     map[string]domain.IndexDefinition{},
		dataSources: map[string]domain.DataSourceDefinition{},
		skillsets:   map[string]domain.SkillsetDefinition{},
		indexers:    map[string]domain.IndexerDefinition{},
		status:      map[string]*domain.IndexerStatus{},
		runs:        map[string]int{},
		failures:    map[string][]error{},
	}
}

func (m *memSearchAdmin) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *memSearchAdmin) injected(op string) error {
	if errs := m.failures[op]; len(errs) > 0 {
		m.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (m *memSearchAdmin) GetIndex(_ context.Context, name string) (*domain.IndexDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetIndex"); err != nil {
		return nil, err
	}
	def, ok := m.indexes[name]
	if !ok {
		return nil, domain.ErrIndexNotFound
	}
	return &def, nil
}

func (m *memSearchAdmin) PutIndex(_ context.Context, def *domain.IndexDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PutIndex"); err != nil {
		return err
	}
	if existing, ok := m.indexes[def.Name]; ok {
		if err := def.CheckCompatible(&existing); err != nil {
			return err
		}
	}
	m.indexes[def.Name] = *def
	m.puts++
	return nil
}

func (m *memSearchAdmin) GetDataSource(_ context.Context, name string) (*domain.DataSourceDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.dataSources[name]
	if !ok {
		return nil, domain.ErrDataSourceNotFound
	}
	return &def, nil
}

func (m *memSearchAdmin) PutDataSource(_ context.Context, def *domain.DataSourceDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PutDataSource"); err != nil {
		return err
	}
	m.dataSources[def.Name] = *def
	m.puts++
	return nil
}

func (m *memSearchAdmin) GetSkillset(_ context.Context, name string) (*domain.SkillsetDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.skillsets[name]
	if !ok {
		return nil, domain.ErrSkillsetNotFound
	}
	return &def, nil
}

func (m *memSearchAdmin) PutSkillset(_ context.Context, def *domain.SkillsetDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skillsets[def.Name] = *def
	m.puts++
	return nil
}

func (m *memSearchAdmin) GetIndexer(_ context.Context, name string) (*domain.IndexerDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.indexers[name]
	if !ok {
		return nil, domain.ErrIndexerNotFound
	}
	return &def, nil
}

func (m *memSearchAdmin) PutIndexer(_ context.Context, def *domain.IndexerDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexers[def.Name] = *def
	m.puts++
	return nil
}

func (m *memSearchAdmin) RunIndexer(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("RunIndexer"); err != nil {
		return err
	}
	if m.status[name].Running() {
		return domain.ErrIndexerBusy
	}
	m.runs[name]++
	if m.statusLag {
		return nil
	}
	m.status[name] = &domain.IndexerStatus{Name: name, Status: "running", LastResult: &domain.IndexerExecutionResult{Status: domain.IndexerRunInProgress}}
	return nil
}

func (m *memSearchAdmin) ResetIndexer(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ResetIndexer"); err != nil {
		return err
	}
	m.status[name] = &domain.IndexerStatus{Name: name, Status: "running", LastResult: &domain.IndexerExecutionResult{Status: domain.IndexerRunReset}}
	return nil
}

func (m *memSearchAdmin) IndexerStatus(_ context.Context, name string) (*domain.IndexerStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("IndexerStatus"); err != nil {
		return nil, err
	}
	if _, ok := m.indexers[name]; !ok {
		return nil, domain.ErrIndexerNotFound
	}
	if s, ok := m.status[name]; ok {
		copied := *s
		return &copied, nil
	}
	return &domain.IndexerStatus{Name: name, Status: "running"}, nil
}

func (m *memSearchAdmin) finishRun(name string, result domain.IndexerExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[name] = &domain.IndexerStatus{Name: name, Status: "running", LastResult: &result}
}

// memObjectStore records uploads.
type memObjectStore struct {
	mu        sync.Mutex
	container string
	objects   map[string]string
	types     map[string]string
	ensured   int
	uploadErr []error
}

func newMemObjectStore(container string) *memObjectStore {
	return &memObjectStore{container: container, objects: map[string]string{}, types: map[string]string{}}
}

func (m *memObjectStore) Container() string { return m.container }

func (m *memObjectStore) EnsureContainer(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

func (m *memObjectStore) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	m.mu.Lock()
	if len(m.uploadErr) > 0 {
		err := m.uploadErr[0]
		m.uploadErr = m.uploadErr[1:]
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = string(data)
	m.types[key] = contentType
	return nil
}
