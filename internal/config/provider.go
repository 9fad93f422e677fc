// internal/config/provider.go
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Provider supplies the solver settings record. Load is called before every
// solve, so implementations must return the current state on each call
// rather than a cached snapshot.
type Provider interface {
	Load(ctx context.Context) (*SolverConfig, error)
	Save(ctx context.Context, cfg *SolverConfig) error
}

// FileProvider persists the settings record as a YAML file. A missing file
// resolves to the built-in defaults; an existing file is taken literally,
// so an explicitly emptied endpoint stays empty.
type FileProvider struct {
	path string
	mu   sync.Mutex
}

// NewFileProvider creates a file-backed settings provider.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("settings file path cannot be empty")
	}
	return &FileProvider{path: path}, nil
}

// Load reads the settings record from disk.
func (p *FileProvider) Load(ctx context.Context) (*SolverConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return DefaultSolverConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %v", err)
	}

	var cfg SolverConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %v", err)
	}

	return &cfg, nil
}

// Save writes the settings record to disk. Last writer wins.
func (p *FileProvider) Save(ctx context.Context, cfg *SolverConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("settings record cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings record: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal settings record: %v", err)
	}

	if dir := filepath.Dir(p.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create settings directory: %v", err)
		}
	}

	// The file carries the API key, keep it owner-readable only.
	if err := os.WriteFile(p.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write settings file: %v", err)
	}

	return nil
}

// StaticProvider holds the settings record in memory. Used in tests and in
// embedded setups that manage configuration themselves.
type StaticProvider struct {
	mu  sync.RWMutex
	cfg SolverConfig
	set bool
}

// NewStaticProvider creates an in-memory provider. A nil record resolves
// to the built-in defaults on Load.
func NewStaticProvider(cfg *SolverConfig) *StaticProvider {
	p := &StaticProvider{}
	if cfg != nil {
		p.cfg = *cfg
		p.set = true
	}
	return p
}

// Load returns a copy of the current record.
func (p *StaticProvider) Load(ctx context.Context) (*SolverConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.set {
		return DefaultSolverConfig(), nil
	}
	cfg := p.cfg
	return &cfg, nil
}

// Save replaces the current record.
func (p *StaticProvider) Save(ctx context.Context, cfg *SolverConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("settings record cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings record: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg = *cfg
	p.set = true
	return nil
}
