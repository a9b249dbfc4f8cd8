package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// AgentConfig holds the configuration of the reporting agent that runs
// on each monitored host
type AgentConfig struct {
	Mode string `mapstructure:"mode"` // test, direct or chroot

	ServerURL       string        `mapstructure:"server_url"`
	Hostname        string        `mapstructure:"hostname"`
	UserDescription string        `mapstructure:"user_description"`
	SSHUser         string        `mapstructure:"ssh_user"`
	Timeout         time.Duration `mapstructure:"timeout"`

	EnableLocking bool   `mapstructure:"enable_locking"`
	LockFilePath  string `mapstructure:"lock_file"`
	// TestDataDir holds the command fixtures used in test mode
	TestDataDir string `mapstructure:"test_data_dir"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Binaries run in direct and chroot mode
	ChrootHostPath  string `mapstructure:"chroot_host_path"`
	ZFSBinaryPath   string `mapstructure:"zfs_binary"`
	ZPoolBinaryPath string `mapstructure:"zpool_binary"`

	// Commands, derived from the mode by SetCommands
	ZFSVersionCmd  []string `mapstructure:"-"`
	ZPoolGetCmd    []string `mapstructure:"-"`
	ZPoolStatusCmd []string `mapstructure:"-"`
	ZFSListCmd     []string `mapstructure:"-"`
}

// NewAgentConfig creates an agent configuration with default values for
// the given mode
func NewAgentConfig(mode string) *AgentConfig {
	hostname, _ := os.Hostname()
	cfg := &AgentConfig{
		Mode:            mode,
		ServerURL:       "http://localhost:4567",
		Hostname:        hostname,
		Timeout:         30 * time.Second,
		EnableLocking:   true,
		LockFilePath:    filepath.Join(os.TempDir(), "zfsmon-agent.lock"),
		TestDataDir:     "testdata",
		LogLevel:        "info",
		LogFormat:       "text",
		ChrootHostPath:  "/host",
		ZFSBinaryPath:   "/usr/local/sbin/zfs",
		ZPoolBinaryPath: "/usr/local/sbin/zpool",
	}
	cfg.SetCommands()
	return cfg
}

// SetCommands derives the zfs and zpool command lines from the mode
func (c *AgentConfig) SetCommands() {
	switch c.Mode {
	case "test":
		c.ZFSVersionCmd = []string{"cat", filepath.Join(c.TestDataDir, "zfs_version.json")}
		c.ZPoolGetCmd = []string{"cat", filepath.Join(c.TestDataDir, "zpool_get.json")}
		c.ZPoolStatusCmd = []string{"cat", filepath.Join(c.TestDataDir, "zpool_status.json")}
		c.ZFSListCmd = []string{"cat", filepath.Join(c.TestDataDir, "zfs_list.json")}
		return
	case "chroot":
		c.setCommands([]string{"chroot", c.ChrootHostPath, c.ZFSBinaryPath}, []string{"chroot", c.ChrootHostPath, c.ZPoolBinaryPath})
	default:
		c.setCommands([]string{c.ZFSBinaryPath}, []string{c.ZPoolBinaryPath})
	}
}

func (c *AgentConfig) setCommands(zfsBin, zpoolBin []string) {
	with := func(bin []string, args ...string) []string {
		return append(append([]string{}, bin...), args...)
	}
	c.ZFSVersionCmd = with(zfsBin, "version", "-j")
	c.ZPoolGetCmd = with(zpoolBin, "get", "-j", "all")
	c.ZPoolStatusCmd = with(zpoolBin, "status", "-j")
	c.ZFSListCmd = with(zfsBin, "list", "-j", "-t", "all", "-o", "all")
}

// IsDebug returns true if debug logging is enabled
func (c *AgentConfig) IsDebug() bool {
	return c.LogLevel == "debug"
}

// ReportURL is the endpoint the agent posts its host report to
func (c *AgentConfig) ReportURL() string {
	return c.ServerURL + "/api/v1/hosts/" + url.PathEscape(c.Hostname) + "/report"
}

// LoadAgent reads the agent configuration the same way Load does. A
// non-empty mode overrides the configured one.
func LoadAgent(configFile, mode string) (*AgentConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	defaults := NewAgentConfig("direct")
	v.SetDefault("mode", defaults.Mode)
	v.SetDefault("server_url", defaults.ServerURL)
	v.SetDefault("hostname", defaults.Hostname)
	v.SetDefault("user_description", "")
	v.SetDefault("ssh_user", "")
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("enable_locking", defaults.EnableLocking)
	v.SetDefault("lock_file", defaults.LockFilePath)
	v.SetDefault("test_data_dir", defaults.TestDataDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("chroot_host_path", defaults.ChrootHostPath)
	v.SetDefault("zfs_binary", defaults.ZFSBinaryPath)
	v.SetDefault("zpool_binary", defaults.ZPoolBinaryPath)

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	cfg := &AgentConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetCommands()
	return cfg, nil
}

// Validate checks the agent configuration
func (c *AgentConfig) Validate() error {
	var errs error
	if c.Mode != "test" && c.Mode != "direct" && c.Mode != "chroot" {
		errs = multierr.Append(errs, fmt.Errorf("invalid mode %q, must be one of: test, direct, chroot", c.Mode))
	}
	if c.Hostname == "" {
		errs = multierr.Append(errs, errors.New("hostname is required"))
	}
	if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("server_url %q must be an http or https URL", c.ServerURL))
	}
	if c.Timeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.EnableLocking && c.LockFilePath == "" {
		errs = multierr.Append(errs, errors.New("lock_file is required when locking is enabled"))
	}
	if c.LogLevel != "info" && c.LogLevel != "debug" {
		errs = multierr.Append(errs, fmt.Errorf("unsupported log_level %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = multierr.Append(errs, fmt.Errorf("unsupported log_format %q", c.LogFormat))
	}
	return errs
}
