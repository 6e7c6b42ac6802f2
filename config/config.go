// Package config loads the widget-provider slave's EngineContext
// configuration: defaults, then an optional TOML file, then
// WIDGET_-prefixed environment variables override both.
//
// This collapses the source program's module-level globals
// (WIDGET_CONF_*, the ping timer, the gbar set...) into one struct that is
// built once and passed explicitly through every component, per
// spec.md §9 "Global mutable state".
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nicesj/widget-provider/errors"
)

// Config is the slave process's static configuration.
type Config struct {
	// Identity, handed to the slave at start-up via app-control extras
	// per spec.md §6.
	SlaveName string `mapstructure:"slave_name"`
	Secured   bool   `mapstructure:"secured"`
	ABI       string `mapstructure:"abi"`
	HWAccel   string `mapstructure:"hw_accel"`

	// Sockets
	MasterSocketPath string `mapstructure:"master_socket_path"`

	// On-disk state
	ImageDirectory string `mapstructure:"image_directory"`
	LockDirectory  string `mapstructure:"lock_directory"`

	// Package code module resolution (spec.md §4.3).
	LibexecSearchPaths []string `mapstructure:"libexec_search_paths"`
	AdaptorModulePath  string   `mapstructure:"adaptor_module_path"`

	// Scheduling tunables
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	MinUpdateInterval time.Duration `mapstructure:"min_update_interval"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	ExtraBufferSlots  int           `mapstructure:"extra_buffer_slots"`

	// Environment-variable-driven flags (spec.md §6 "Environment variables")
	DisableCallOption bool   `mapstructure:"disable_call_option"`
	HeapMonitorStart  bool   `mapstructure:"heap_monitor_start"`
	BufmgrLockType    string `mapstructure:"bufmgr_lock_type"`
	BufmgrMapCache    bool   `mapstructure:"bufmgr_map_cache"`
	ComCoreThread     bool   `mapstructure:"com_core_thread"`

	// Logging
	JSONLogs bool `mapstructure:"json_logs"`

	// Admin/debug surface consumed by cmd/widgetctl.
	AdminSocketPath string `mapstructure:"admin_socket_path"`
}

// Default values, mirroring the source program's constants
// (DEFAULT_PING_TIME/2, MIN_UPDATE_INTERVAL, N_extra buffer slots).
const (
	DefaultPingInterval      = 2 * time.Second
	DefaultMinUpdateInterval = 1 * time.Second
	DefaultTimeout           = 5 * time.Second
	DefaultExtraBufferSlots  = 2
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("slave_name", "")
	v.SetDefault("secured", false)
	v.SetDefault("abi", "c")
	v.SetDefault("hw_accel", "")

	v.SetDefault("master_socket_path", "/tmp/.widget.service")
	v.SetDefault("image_directory", "/tmp/.widget.service.images")
	v.SetDefault("lock_directory", "/tmp/.widget.service.locks")

	v.SetDefault("libexec_search_paths", []string{"/usr/share/widget_viewer/libexec"})
	v.SetDefault("adaptor_module_path", "")

	v.SetDefault("ping_interval", DefaultPingInterval)
	v.SetDefault("min_update_interval", DefaultMinUpdateInterval)
	v.SetDefault("default_timeout", DefaultTimeout)
	v.SetDefault("extra_buffer_slots", DefaultExtraBufferSlots)

	v.SetDefault("disable_call_option", false)
	v.SetDefault("heap_monitor_start", false)
	v.SetDefault("bufmgr_lock_type", "")
	v.SetDefault("bufmgr_map_cache", false)
	v.SetDefault("com_core_thread", false)

	v.SetDefault("json_logs", false)
	v.SetDefault("admin_socket_path", "/tmp/.widget.service.admin")
}

// Load builds an EngineContext config from defaults, an optional TOML
// file at path (ignored if empty or missing), then WIDGET_-prefixed
// environment variables, matching the teacher's am.Load precedence chain.
// The five environment-driven flags are also read from their unprefixed
// names (PROVIDER_DISABLE_CALL_OPTION, PROVIDER_HEAP_MONITOR_START,
// BUFMGR_LOCK_TYPE, BUFMGR_MAP_CACHE, PROVIDER_COM_CORE_THREAD).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("WIDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range map[string]string{
		"disable_call_option": "PROVIDER_DISABLE_CALL_OPTION",
		"heap_monitor_start":  "PROVIDER_HEAP_MONITOR_START",
		"bufmgr_lock_type":    "BUFMGR_LOCK_TYPE",
		"bufmgr_map_cache":    "BUFMGR_MAP_CACHE",
		"com_core_thread":     "PROVIDER_COM_CORE_THREAD",
	} {
		if err := v.BindEnv(key, "WIDGET_"+strings.ToUpper(key), name); err != nil {
			return nil, errors.Wrapf(err, "failed to bind environment variable %s", name)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "failed to read config file %s", path)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal widget-provider config")
	}

	return &cfg, nil
}
