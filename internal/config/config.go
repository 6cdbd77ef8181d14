package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version information - set by GoReleaser during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GetVersionInfo returns a formatted version string
func GetVersionInfo() string {
	return fmt.Sprintf("auth-fabric version %s, commit %s, built at %s", version, commit, date)
}

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	OAuth       *OAuthConfig      `mapstructure:"oauth"`
	Propagation PropagationConfig `mapstructure:"propagation"`
	Policy      PolicyConfig      `mapstructure:"policy"`
}

type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Name    string `mapstructure:"name"`
	Timeout string `mapstructure:"timeout"`
}

// Addr returns the host:port listen address for the server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LoggingConfig struct {
	Level             string `mapstructure:"level"`
	Format            string `mapstructure:"format"`
	Color             bool   `mapstructure:"color"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	OutputPath        string `mapstructure:"output_path"`
	AppendToFile      bool   `mapstructure:"append_to_file"`
	DisableConsole    bool   `mapstructure:"disable_console"`
}

// AuthConfig holds the secrets shared across the fabric. SigningSecret signs
// service tokens; ServiceSecret authenticates service-to-service directory
// propagation calls. AuthorityURL is where downstream services reach the
// session authority.
type AuthConfig struct {
	SigningSecret string        `mapstructure:"signing_secret"`
	ServiceSecret string        `mapstructure:"service_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	AuthorityURL  string        `mapstructure:"authority_url"`
}

type OAuthConfig struct {
	Provider     string   `mapstructure:"provider"` // google, github
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
	BaseURL      string   `mapstructure:"base_url"`
}

// PropagationTarget is one downstream service that receives user-directory
// inject/remove calls.
type PropagationTarget struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type PropagationConfig struct {
	Targets []PropagationTarget `mapstructure:"targets"`
}

// PolicyRule is a public-route matcher: requests under Prefix with a method
// in Methods skip authentication. Empty Methods means every method.
type PolicyRule struct {
	Prefix  string   `mapstructure:"prefix" yaml:"prefix"`
	Methods []string `mapstructure:"methods" yaml:"methods"`
}

type PolicyConfig struct {
	File  string       `mapstructure:"file"`
	Rules []PolicyRule `mapstructure:"rules"`
}

// DefaultTokenTTL is the service-token lifetime when auth.token_ttl is unset.
const DefaultTokenTTL = time.Hour

// InitFlags initializes command line flags (without parsing)
func InitFlags() {
	pflag.String("config-file", "", "Path to the config file")
	pflag.String("policy-file", "", "Path to the route auth policy file")
	// Note: no pflag.Parse() here as it's called in main.go
}

func Load() (*Config, error) {
	viper.Reset() // Ensure clean state

	viper.SetEnvPrefix("AUTH_FABRIC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, err
	}

	if configFile := viper.GetString("config-file"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/auth-fabric")
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	// Loading additional config files
	if _, err := os.Stat("/config/config.yaml"); err == nil {
		viper.SetConfigFile("/config/config.yaml")
		// Merge /config/config.yaml (overrides overlapping keys)
		if err := viper.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if policyFile := viper.GetString("policy-file"); policyFile != "" {
		config.Policy.File = policyFile
	}

	if config.Auth.TokenTTL == 0 {
		config.Auth.TokenTTL = DefaultTokenTTL
	}

	if config.Auth.ServiceSecret == "" {
		return nil, fmt.Errorf("auth.service_secret is required, please adjust the config or set AUTH_FABRIC_AUTH_SERVICE_SECRET")
	}

	if config.OAuth != nil && config.OAuth.BaseURL == "" {
		return nil, fmt.Errorf("oauth.base_url is required, please adjust the config or set AUTH_FABRIC_OAUTH_BASE_URL")
	}

	return &config, nil
}
