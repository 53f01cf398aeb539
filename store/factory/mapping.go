package factory

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/CSC-DPR/eopf-cpm-sub000/product"
	"github.com/CSC-DPR/eopf-cpm-sub000/store"
)

// Mapping describes one product type: how to recognize it and which
// short names its tree exposes.
type Mapping struct {
	ProductType string           `koanf:"product_type"`
	Description string           `koanf:"description"`
	ShortNames  []ShortNameEntry `koanf:"short_names"`
}

// ShortNameEntry is one alias declaration of a mapping file.
type ShortNameEntry struct {
	ShortName  string `koanf:"short_name"`
	TargetPath string `koanf:"target_path"`
}

// MappingFactory loads product-type mappings from JSON files and
// serves their short-name tables. It implements the product model's
// MappingResolver hook.
type MappingFactory struct {
	mu       sync.RWMutex
	mappings map[string]*Mapping
	logger   *zap.Logger
}

var _ product.MappingResolver = (*MappingFactory)(nil)

// NewMappingFactory creates an empty mapping factory.
func NewMappingFactory(logger *zap.Logger) *MappingFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MappingFactory{
		mappings: map[string]*Mapping{},
		logger:   logger,
	}
}

// Register adds or replaces the mapping of a product type.
func (f *MappingFactory) Register(m *Mapping) error {
	if m.ProductType == "" {
		return fmt.Errorf("%w: mapping without product type", store.ErrInvalidProduct)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mappings[m.ProductType] = m
	return nil
}

// LoadDir loads every *.json mapping file in dir. Files that fail to
// parse are skipped with a warning so one bad file does not take down
// the whole mapping set.
func (f *MappingFactory) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return fmt.Errorf("scanning mapping directory: %w", err)
	}
	for _, path := range paths {
		m, err := loadMappingFile(path)
		if err != nil {
			f.logger.Warn("skipping unparsable mapping file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if err := f.Register(m); err != nil {
			f.logger.Warn("skipping invalid mapping file",
				zap.String("path", path), zap.Error(err))
		}
	}
	return nil
}

func loadMappingFile(path string) (*Mapping, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("loading mapping file: %w", err)
	}
	var m Mapping
	if err := k.Unmarshal("", &m); err != nil {
		return nil, fmt.Errorf("decoding mapping file: %w", err)
	}
	return &m, nil
}

// Types returns the product types with a registered mapping.
func (f *MappingFactory) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.mappings))
	for t := range f.mappings {
		types = append(types, t)
	}
	return types
}

// ShortNames returns the alias records of a product type.
func (f *MappingFactory) ShortNames(productType string) ([]product.ShortNameRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.mappings[productType]
	if !ok {
		return nil, fmt.Errorf("%w: no mapping for product type %q", store.ErrNotFound, productType)
	}
	records := make([]product.ShortNameRecord, 0, len(m.ShortNames))
	for _, entry := range m.ShortNames {
		records = append(records, product.ShortNameRecord{
			ShortName:  entry.ShortName,
			TargetPath: entry.TargetPath,
		})
	}
	return records, nil
}
