package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

type Config struct {
	Logger       Logger       `yaml:"logger"`
	HTTPClient   HTTPClient   `yaml:"http_client"`
	GitClient    GitClient    `yaml:"git_client"`
	Storage      Storage      `yaml:"storage"`
	Scheduler    Scheduler    `yaml:"scheduler"`
	Scan         Scan         `yaml:"scan"`
	Source       Source       `yaml:"source"`
	Remediation  Remediation  `yaml:"remediation"`
	Reasoning    Reasoning    `yaml:"reasoning"`
	Intelligence Intelligence `yaml:"intelligence"`
	Usage        Usage        `yaml:"usage"`
	Metrics      Metrics      `yaml:"metrics"`

	// HomeFolder anchors every relative folder below; VULNIMPACT_HOME overrides it.
	HomeFolder string `yaml:"home_folder"`
}

type Logger struct {
	Level           string `yaml:"level"`
	DisableTime     *bool  `yaml:"disable_time"`
	JSONFormat      *bool  `yaml:"json_format"`
	IncludeLocation *bool  `yaml:"include_location"`
}

type HTTPClient struct {
	Debug            *bool           `yaml:"debug"`
	RetryCount       int             `yaml:"retry_count"`
	RetryWaitTime    time.Duration   `yaml:"retry_wait_time"`
	RetryMaxWaitTime time.Duration   `yaml:"retry_max_wait_time"`
	Timeout          time.Duration   `yaml:"timeout"`
	TLSClientConfig  TLSClientConfig `yaml:"tls_client_config"`
	Proxy            Proxy           `yaml:"proxy"`
}

type TLSClientConfig struct {
	Verify *bool `yaml:"verify"`
}

type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GitClient struct {
	Depth       int           `yaml:"depth"`
	InsecureTLS *bool         `yaml:"insecure_tls"`
	Timeout     time.Duration `yaml:"timeout"`
	AuthType    string        `yaml:"auth_type"`
	SSHKey      string        `yaml:"ssh_key"`

	Username       string `yaml:"-"`
	Token          string `yaml:"-"`
	SSHKeyPassword string `yaml:"-"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Scheduler struct {
	Interval   time.Duration `yaml:"interval"`
	Cron       string        `yaml:"cron"`
	RunOnStart *bool         `yaml:"run_on_start"`
}

type Scan struct {
	Workers           int           `yaml:"workers"`
	RepositoryTimeout time.Duration `yaml:"repository_timeout"`
	DefaultInterval   time.Duration `yaml:"default_interval"`
}

type Source struct {
	Kind          string        `yaml:"kind"`
	PluginName    string        `yaml:"plugin_name"`
	PluginsFolder string        `yaml:"plugins_folder"`
	PluginTimeout time.Duration `yaml:"plugin_timeout"`
	LocalRoot     string        `yaml:"local_root"`
	Workdir       string        `yaml:"workdir"`
	GitHost       string        `yaml:"git_host"`
}

type Remediation struct {
	Enabled      *bool  `yaml:"enabled"`
	Mode         string `yaml:"mode"`
	OutputFolder string `yaml:"output_folder"`
}

type Reasoning struct {
	Endpoint string        `yaml:"endpoint"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Intelligence struct {
	GHSA GHSA `yaml:"ghsa"`
	KEV  KEV  `yaml:"kev"`
}

type GHSA struct {
	Enabled    *bool    `yaml:"enabled"`
	URL        string   `yaml:"url"`
	Token      string   `yaml:"token"`
	Ecosystems []string `yaml:"ecosystems"`
	PerPage    int      `yaml:"per_page"`
	MaxPages   int      `yaml:"max_pages"`
}

type KEV struct {
	Enabled *bool  `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type Usage struct {
	Concurrency int                      `yaml:"concurrency"`
	ExcludeDirs []string                 `yaml:"exclude_dirs"`
	Patterns    map[string]UsagePatterns `yaml:"patterns"`
}

// UsagePatterns extends or defines the import patterns of one ecosystem.
type UsagePatterns struct {
	Extensions []string       `yaml:"extensions"`
	Patterns   []UsagePattern `yaml:"patterns"`
}

type UsagePattern struct {
	Expr  string `yaml:"expr"`
	Scope string `yaml:"scope"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

// ValidateConfigPath checks that path points to a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes the YAML document at configPath into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	d.SetStrict(true)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// NewConfig loads, completes and validates the configuration.
// An empty configPath yields the defaults.
func NewConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		if err := LoadYAML(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes an in-memory YAML document, then completes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
