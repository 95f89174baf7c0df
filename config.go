package synapse

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// VectorBackend selects the C2 vector index implementation.
type VectorBackend string

const (
	BackendExactLinear     VectorBackend = "exact"
	BackendApproximateHNSW VectorBackend = "hnsw"
)

// MetadataBackend selects the persistent store for memories, facts, waypoints and jobs.
type MetadataBackend string

const (
	MetadataSQLite   MetadataBackend = "sqlite"
	MetadataPostgres MetadataBackend = "postgres"
)

// EmbeddingTier selects the C1 blending strategy.
type EmbeddingTier string

const (
	TierFast   EmbeddingTier = "fast"   // synthetic only
	TierSmart  EmbeddingTier = "smart"  // hosted provider only
	TierDeep   EmbeddingTier = "deep"   // hosted provider, larger model where applicable
	TierHybrid EmbeddingTier = "hybrid" // synthetic + hosted, blended
)

// CoactivationMode selects how C7 reconciles coactivations into waypoint edges.
type CoactivationMode string

const (
	CoactivationCron     CoactivationMode = "cron"     // durable queue + worker (recommended, default)
	CoactivationInterval CoactivationMode = "interval"  // legacy in-memory buffer flushed on a ticker
	CoactivationDisabled CoactivationMode = "disabled"  // no coactivation bookkeeping
)

// Config holds Synapse initialization parameters. Fields mirror spec §6's
// environment-variable table; LoadConfigFile reads a YAML file, ApplyEnv
// applies environment-variable overrides, and ApplyDefaults resolves zero
// values.
type Config struct {
	// Storage
	MetadataBackend MetadataBackend `yaml:"metadata_backend" validate:"omitempty,oneof=sqlite postgres"`
	DBPath          string          `yaml:"db_path"`          // sqlite path
	PostgresDSN     string          `yaml:"postgres_dsn"`     // postgres connection string

	MaxMemoriesPerUser int     `yaml:"max_memories_per_user" validate:"omitempty,min=1"`
	MinDecayScore      float64 `yaml:"min_decay_score" validate:"omitempty,min=0,max=1"`

	// Vector index
	VectorBackend     VectorBackend `yaml:"vector_backend" validate:"omitempty,oneof=exact hnsw"`
	VecDim            int           `yaml:"vec_dim" validate:"omitempty,min=1"`
	OverfetchFactor   int           `yaml:"overfetch_factor" validate:"omitempty,min=1"`
	VectorPartitions  int           `yaml:"vector_partitions" validate:"omitempty,min=1"`
	HNSWPartitionSize int           `yaml:"hnsw_partition_threshold"` // vector count at or above which partitioning kicks in

	// Embeddings
	Tier           EmbeddingTier `yaml:"tier" validate:"omitempty,oneof=fast smart deep hybrid"`
	EmbeddingsKind string        `yaml:"embeddings" validate:"omitempty,oneof=synthetic openai gemini ollama"`
	OpenAIAPIKey   string        `yaml:"-"`
	GeminiAPIKey   string        `yaml:"-"`
	OllamaHost     string        `yaml:"ollama_host"`
	OllamaModel    string        `yaml:"ollama_model"`

	EmbeddingProvider EmbeddingProvider // nil = construct from the fields above
	Classifier        SectorClassifier
	EntityExtractor   EntityExtractor

	ScoringWeights    *ScoringWeights
	ReinforcementStep float64 `yaml:"reinforcement_step" validate:"omitempty,min=0,max=1"`

	DecayInterval time.Duration
	DecayRates    map[Sector]float64

	WaypointSimilarityThreshold float64 `yaml:"waypoint_similarity_threshold" validate:"omitempty,min=-1,max=1"` // τ_new
	WaypointMaxNeighbors        int     `yaml:"waypoint_max_neighbors" validate:"omitempty,min=1"`               // K_nb
	WaypointMaxMembers          int     `yaml:"waypoint_max_members" validate:"omitempty,min=1"`                 // K_max
	MaxExpansion                int     `yaml:"max_expansion" validate:"omitempty,min=0"`                       // max_exp

	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"-"`

	CoactivationMode CoactivationMode `yaml:"coactivation_mode" validate:"omitempty,oneof=cron interval disabled"`

	// Reflection (explicit opt-in — never auto-constructed)
	ReflectionProvider ReflectionProvider
	ReflectionInterval time.Duration

	// Metrics (otel). MetricsEnabled starts the Prometheus exporter bridge
	// in Init; Metrics lets a caller supply an already-built instance
	// (e.g. sharing a MeterProvider across services) instead.
	MetricsEnabled bool     `yaml:"metrics_enabled"`
	Metrics        *Metrics `yaml:"-"`

	Logger *zap.SugaredLogger

	decayRates     map[Sector]float64
	scoringWeights ScoringWeights
}

// ApplyDefaults fills zero-valued fields with sensible defaults and resolves
// the merged maps. Safe to call more than once.
func (c *Config) ApplyDefaults() {
	if c.MetadataBackend == "" {
		c.MetadataBackend = MetadataSQLite
	}
	if c.DBPath == "" {
		c.DBPath = "./data/synapse.db"
	}
	if c.VectorBackend == "" {
		c.VectorBackend = BackendExactLinear
	}
	if c.VecDim == 0 {
		c.VecDim = 768
	}
	if c.OverfetchFactor == 0 {
		c.OverfetchFactor = 3
	}
	if c.VectorPartitions == 0 {
		c.VectorPartitions = 8
	}
	if c.HNSWPartitionSize == 0 {
		c.HNSWPartitionSize = 100_000
	}
	if c.Tier == "" {
		c.Tier = TierFast
	}
	if c.EmbeddingsKind == "" {
		c.EmbeddingsKind = "synthetic"
	}
	if c.OllamaHost == "" {
		c.OllamaHost = "http://localhost:11434"
	}
	if c.OllamaModel == "" {
		c.OllamaModel = "nomic-embed-text"
	}
	if c.DecayInterval == 0 {
		c.DecayInterval = 12 * time.Hour
	}
	if c.MaxMemoriesPerUser == 0 {
		c.MaxMemoriesPerUser = 500
	}
	if c.MinDecayScore == 0 {
		c.MinDecayScore = 0.01
	}
	if c.WaypointSimilarityThreshold == 0 {
		c.WaypointSimilarityThreshold = 0.75
	}
	if c.WaypointMaxNeighbors == 0 {
		c.WaypointMaxNeighbors = 8
	}
	if c.WaypointMaxMembers == 0 {
		c.WaypointMaxMembers = 50
	}
	if c.MaxExpansion == 0 {
		c.MaxExpansion = 40
	}
	if c.ReinforcementStep == 0 {
		c.ReinforcementStep = 0.15
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 60 * time.Second
	}
	if c.CoactivationMode == "" {
		c.CoactivationMode = CoactivationCron
	}
	if c.Logger == nil {
		c.Logger = newLogger()
	}

	c.decayRates = DefaultDecayRates()
	for sector, lambda := range c.DecayRates {
		c.decayRates[sector] = lambda
	}

	if c.ScoringWeights != nil {
		c.scoringWeights = *c.ScoringWeights
	} else {
		c.scoringWeights = DefaultScoringWeights()
	}
}

// LoadConfigFile reads YAML defaults from path. Missing file is not an error —
// environment variables and ApplyDefaults still apply.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, newErr(KindInvalidInput, "read config file", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, newErr(KindInvalidInput, "parse config file", err)
	}
	return cfg, nil
}

// ApplyEnv overlays recognized environment variables onto cfg (spec §6).
// Environment variables take priority over whatever the YAML file set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("USE_APPROX_VECTOR"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			if b {
				c.VectorBackend = BackendApproximateHNSW
			} else {
				c.VectorBackend = BackendExactLinear
			}
		}
	}
	if v := os.Getenv("METADATA_BACKEND"); v != "" {
		c.MetadataBackend = MetadataBackend(v)
	}
	if v := os.Getenv("EMBEDDINGS"); v != "" {
		c.EmbeddingsKind = v
	}
	if v := os.Getenv("TIER"); v != "" {
		c.Tier = EmbeddingTier(v)
	}
	if v := os.Getenv("VEC_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VecDim = n
		}
	}
	if v := os.Getenv("CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.CacheEnabled = b
		}
	} else {
		c.CacheEnabled = true
	}
	if v := os.Getenv("COACTIVATION_MODE"); v != "" {
		c.CoactivationMode = CoactivationMode(v)
	}
	if v := os.Getenv("OVERFETCH_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.OverfetchFactor = n
		}
	}
	if v := os.Getenv("VECTOR_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VectorPartitions = n
		}
	}
	if v := os.Getenv("ENGRAM_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SYNAPSE_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		c.OllamaHost = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.MetricsEnabled = b
		}
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over the resolved config, surfacing
// the first violation as a KindInvalidInput error.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return newErr(KindInvalidInput, fmt.Sprintf("invalid configuration: %v", err), err)
	}
	if c.MetadataBackend == MetadataPostgres && c.PostgresDSN == "" {
		return errInvalidInput("metadata_backend=postgres requires postgres_dsn")
	}
	return nil
}
