package quiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/quiverdb/quiver/comparator"
	"github.com/quiverdb/quiver/core"
	"github.com/quiverdb/quiver/domain"
)

// ErrUnknownDomain is returned when operating on a domain that was never
// opened through the store.
var ErrUnknownDomain = errors.New("quiver: unknown domain")

// StoreOptions configures a Store.
type StoreOptions struct {
	// Logger receives structured operation logs. Defaults to a noop
	// logger.
	Logger *Logger
}

// DefaultStoreOptions are the store defaults.
var DefaultStoreOptions = StoreOptions{
	Logger: NoopLogger(),
}

// Store is the top-level handle over one directory of embedding domains. It
// caches open domains by name, so opening the same domain twice yields the
// same handle.
type Store struct {
	dir    string
	logger *Logger

	mu      sync.Mutex
	domains map[string]*domain.Domain
}

// NewStore opens a store rooted at dir, creating the directory if absent.
func NewStore(dir string, optFns ...func(o *StoreOptions)) (*Store, error) {
	opts := DefaultStoreOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &Store{
		dir:     dir,
		logger:  opts.Logger,
		domains: make(map[string]*domain.Domain),
	}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Domain opens the domain called name with the given embedding dimension,
// creating it if absent. Opening an already-open domain returns the cached
// handle; asking for it with a different dimension is an error.
func (s *Store) Domain(name string, dim int) (*domain.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.domains[name]; ok {
		if d.Dimension() != dim {
			return nil, fmt.Errorf("quiver: domain %q is open with dimension %d, requested %d", name, d.Dimension(), dim)
		}
		return d, nil
	}

	d, err := domain.Open(s.dir, name, dim)
	if err != nil {
		return nil, err
	}
	s.domains[name] = d

	return d, nil
}

func (s *Store) lookup(name string) (*domain.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}

	return d, nil
}

// Concatenate appends the vector file at path to the named open domain and
// returns the assigned VectorID range.
func (s *Store) Concatenate(ctx context.Context, name, path string) (core.VectorID, core.VectorID, error) {
	d, err := s.lookup(name)
	if err != nil {
		return 0, 0, err
	}

	start, end, err := d.Concatenate(path)
	s.logger.LogConcatenate(ctx, name, start, end, err)

	return start, end, err
}

// CreateDerived trains a product-quantized representation on the named open
// domain. width is the sub-space chunk width.
func (s *Store) CreateDerived(ctx context.Context, name, derived string, width int, optFns ...func(o *domain.TrainerOptions)) (*domain.PQDeriver, error) {
	d, err := s.lookup(name)
	if err != nil {
		return nil, err
	}

	der, err := d.CreateDerived(derived, width, optFns...)
	s.logger.LogTraining(ctx, name, derived, width, err)

	return der, err
}

// LoadRawComparator reads the comparator metadata sidecar at metaPath,
// opens the domain it names and binds a raw comparator to it.
func (s *Store) LoadRawComparator(metaPath string, dim int) (*comparator.Raw, error) {
	m, err := comparator.ReadMeta(metaPath)
	if err != nil {
		return nil, err
	}

	d, err := s.Domain(m.Domain, dim)
	if err != nil {
		return nil, err
	}

	return comparator.NewRaw(d), nil
}

// Close closes every open domain. The store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, d := range s.domains {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.domains = nil

	return firstErr
}
