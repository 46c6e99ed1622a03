package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	MinChars     int `yaml:"min_chars"`
	IdealChars   int `yaml:"ideal_chars"`
	MaxChars     int `yaml:"max_chars"`
	OverlapWords int `yaml:"overlap_words"`
	NoiseFloor   int `yaml:"noise_floor"`
}

// BatchTier applies Size to documents with more than Above chunks.
type BatchTier struct {
	Above int `yaml:"above"`
	Size  int `yaml:"size"`
}

type BatchingConfig struct {
	Tiers []BatchTier   `yaml:"tiers"`
	Pause time.Duration `yaml:"pause"`
}

// EmbeddingConfig tunes the embedding client. Workers caps concurrent calls
// within a batch; zero means one per record.
type EmbeddingConfig struct {
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Breaker           bool          `yaml:"breaker"`
	Workers           int           `yaml:"workers"`
}

type LimitsConfig struct {
	MaxBytes          int64 `yaml:"max_bytes"`
	MaxPages          int   `yaml:"max_pages"`
	LargeFileBytes    int64 `yaml:"large_file_bytes"`
	MetadataTextChars int   `yaml:"metadata_text_chars"`
}

type CoordinatorConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}

// Tuning is the pipeline tuning file. Fields missing from the file keep their defaults.
type Tuning struct {
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Batching    BatchingConfig    `yaml:"batching"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Limits      LimitsConfig      `yaml:"limits"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
}

// DefaultTuning mirrors the values the worker has always run with.
func DefaultTuning() *Tuning {
	return &Tuning{
		Chunking: ChunkingConfig{
			MinChars:     4000,
			IdealChars:   8000,
			MaxChars:     12000,
			OverlapWords: 8,
			NoiseFloor:   20,
		},
		Batching: BatchingConfig{
			Tiers: []BatchTier{
				{Above: 0, Size: 100},
				{Above: 2000, Size: 60},
				{Above: 5000, Size: 40},
			},
			Pause: 100 * time.Millisecond,
		},
		Embedding: EmbeddingConfig{
			RetryBackoff: 2 * time.Second,
			Breaker:      true,
		},
		Limits: LimitsConfig{
			MaxBytes:          200 << 20,
			MaxPages:          5000,
			LargeFileBytes:    30 << 20,
			MetadataTextChars: 800,
		},
		Coordinator: CoordinatorConfig{
			ScanInterval: 2 * time.Second,
			JobTimeout:   30 * time.Minute,
		},
	}
}

// LoadTuning reads the YAML tuning file at path. A missing file yields defaults.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tuning) Validate() error {
	c := t.Chunking
	if c.NoiseFloor < 0 || c.NoiseFloor > c.MinChars {
		return fmt.Errorf("chunking: noise_floor %d must be within [0, min_chars %d]", c.NoiseFloor, c.MinChars)
	}
	if c.MinChars <= 0 || c.MinChars >= c.IdealChars || c.IdealChars >= c.MaxChars {
		return fmt.Errorf("chunking: need 0 < min_chars < ideal_chars < max_chars, got %d/%d/%d",
			c.MinChars, c.IdealChars, c.MaxChars)
	}
	if c.OverlapWords < 0 {
		return fmt.Errorf("chunking: overlap_words must not be negative")
	}

	if len(t.Batching.Tiers) == 0 {
		return fmt.Errorf("batching: tiers must not be empty")
	}
	for i, tier := range t.Batching.Tiers {
		if tier.Size <= 0 {
			return fmt.Errorf("batching: tier %d size must be positive", i)
		}
		if i > 0 && tier.Above <= t.Batching.Tiers[i-1].Above {
			return fmt.Errorf("batching: tiers must be strictly ascending by above")
		}
	}
	if t.Batching.Pause < 0 {
		return fmt.Errorf("batching: pause must not be negative")
	}

	if t.Embedding.RetryBackoff < 0 || t.Embedding.RequestsPerMinute < 0 || t.Embedding.Workers < 0 {
		return fmt.Errorf("embedding: values must not be negative")
	}
	if t.Limits.MaxBytes <= 0 || t.Limits.MaxPages <= 0 || t.Limits.MetadataTextChars <= 0 {
		return fmt.Errorf("limits: max_bytes, max_pages and metadata_text_chars must be positive")
	}
	if t.Coordinator.ScanInterval <= 0 {
		return fmt.Errorf("coordinator: scan_interval must be positive")
	}
	return nil
}
