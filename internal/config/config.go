package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Workers  *workerConfig
	Pipeline *pipelineConfig
	Results  *resultConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"appanalyzer.db"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	OpsAddress string `envconfig:"APPANALYZER_OPS_ADDRESS" default:":8090"`
	LogLevel   string `envconfig:"APPANALYZER_LOG_LEVEL" default:"info"`
}

type workerConfig struct {
	StaticAddresses      []string      `envconfig:"APPANALYZER_STATIC_WORKERS" default:"ws://localhost:2001"`
	DynamicAddresses     []string      `envconfig:"APPANALYZER_DYNAMIC_WORKERS" default:"ws://localhost:2002"`
	PerformanceAddresses []string      `envconfig:"APPANALYZER_PERFORMANCE_WORKERS" default:"ws://localhost:2003"`
	AIAddresses          []string      `envconfig:"APPANALYZER_AI_WORKERS" default:"ws://localhost:2004"`
	ConnectTimeout       time.Duration `envconfig:"APPANALYZER_WORKER_CONNECT_TIMEOUT" default:"10s"`
	RequestTimeout       time.Duration `envconfig:"APPANALYZER_WORKER_REQUEST_TIMEOUT" default:"300s"`
	HealthCacheTTL       time.Duration `envconfig:"APPANALYZER_WORKER_HEALTH_TTL" default:"30s"`
}

type pipelineConfig struct {
	PollInterval           time.Duration `envconfig:"APPANALYZER_PIPELINE_POLL_INTERVAL" default:"5s"`
	GenerationConcurrency  int           `envconfig:"APPANALYZER_GENERATION_CONCURRENCY" default:"2"`
	AnalysisConcurrency    int           `envconfig:"APPANALYZER_ANALYSIS_CONCURRENCY" default:"4"`
	ExecutorWorkers        int           `envconfig:"APPANALYZER_EXECUTOR_WORKERS" default:"8"`
	AutoStartWorkers       bool          `envconfig:"APPANALYZER_AUTO_START_WORKERS" default:"false"`
	WorkerStartWait        time.Duration `envconfig:"APPANALYZER_WORKER_START_WAIT" default:"120s"`
	ComposeProject         string        `envconfig:"APPANALYZER_COMPOSE_PROJECT" default:"analyzer"`
	HealthVerdictCacheTime time.Duration `envconfig:"APPANALYZER_HEALTH_VERDICT_TTL" default:"15s"`
}

type resultConfig struct {
	LegacyDir          string `envconfig:"APPANALYZER_LEGACY_RESULTS_DIR" default:""`
	LegacyImportLimit  int    `envconfig:"APPANALYZER_LEGACY_IMPORT_LIMIT" default:"500"`
	LegacyDeleteSource bool   `envconfig:"APPANALYZER_LEGACY_DELETE_SOURCE" default:"false"`
	CacheEntries       int    `envconfig:"APPANALYZER_RESULT_CACHE_ENTRIES" default:"128"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}
