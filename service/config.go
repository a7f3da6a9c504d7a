/*
 Copyright © 2026 Dell Inc. or its subsidiaries. All Rights Reserved.

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at
      http://www.apache.org/licenses/LICENSE-2.0
 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dell/csi-remotecopy/v2/pkg/array"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// StateConfigMap locates the config map holding the active backend id
type StateConfigMap struct {
	Namespace string `mapstructure:"namespace"`
	Name      string `mapstructure:"name"`
}

// Config is the layout of the driver configuration file
type Config struct {
	Opts           `mapstructure:",squash"`
	StateConfigMap StateConfigMap `mapstructure:"stateConfigMap"`
	LogLevel       string         `mapstructure:"logLevel"`
	LogFormat      string         `mapstructure:"logFormat"`
}

// ReadConfig - uses viper to read the driver configuration from a yaml file
func ReadConfig(configPath string, v *viper.Viper) (*Config, error) {
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		log.Errorf("Unable to read config file %s: %s", configPath, err.Error())
		return nil, err
	}
	return unmarshalConfig(v)
}

func unmarshalConfig(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Errorf("Error in unmarshalling the config: %s", err.Error())
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	if c.BackendID == "" {
		return fmt.Errorf("backendId is required")
	}
	if c.Primary.Host == "" {
		return fmt.Errorf("primary.host is required")
	}
	if c.ReplicationTarget != nil && c.ReplicationTarget.Host == "" {
		return fmt.Errorf("replicationTarget.host is required")
	}
	for i, t := range c.MigrationTargets {
		if t.BackendID == "" || t.Host == "" {
			return fmt.Errorf("migrationTargets[%d] needs a backendId and a host", i)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values with the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvUser); ok {
		c.Primary.Username = v
	}
	if v, ok := lookup(EnvPassword); ok {
		c.Primary.Password = v
	}
	if c.ReplicationTarget != nil {
		if v, ok := lookup(EnvTargetUser); ok {
			c.ReplicationTarget.Username = v
		}
		if v, ok := lookup(EnvTargetPassword); ok {
			c.ReplicationTarget.Password = v
		}
	}
	if v, ok := lookup(EnvSkipCertificateValidation); ok {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value of %s: %w", EnvSkipCertificateValidation, err)
		}
		c.Insecure = insecure
	}
	for env, target := range map[string]*time.Duration{
		EnvSyncTimeout:  &c.Timeouts.SyncTimeout,
		EnvPollInterval: &c.Timeouts.PollInterval,
	} {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid value of %s: %w", env, err)
		}
		*target = d
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvStateNamespace); ok && v != "" {
		c.StateConfigMap.Namespace = v
	}
	if v, ok := lookup(EnvDebug); ok {
		array.Debug, _ = strconv.ParseBool(v)
	}
	return nil
}

// DefaultConfigPath returns the config path from the environment
func DefaultConfigPath() string {
	if path, ok := os.LookupEnv(EnvConfigPath); ok && path != "" {
		return path
	}
	return filepath.Join("/etc", "csi-remotecopy", "config.yaml")
}

// UpdateLogParams sets the log formatter and level. Text with full
// timestamps and debug level are the defaults.
func UpdateLogParams(format, logLevel string) {
	logFormatFromConfig := strings.ToLower(format)
	var formatter log.Formatter
	formatter = &log.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	}
	if strings.EqualFold(logFormatFromConfig, "json") {
		formatter = &log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		}
	} else if !strings.EqualFold(logFormatFromConfig, "text") && (logFormatFromConfig != "") {
		log.Printf("Unsupported logFormat: %s supplied. Defaulting to text", logFormatFromConfig)
	}
	level := log.DebugLevel
	if logLevel != "" {
		l, err := log.ParseLevel(strings.ToLower(logLevel))
		if err != nil {
			log.WithError(err).Errorf("logLevel %s value not recognized, Setting to default: %s", logLevel, level)
		} else {
			level = l
		}
	}
	log.SetFormatter(formatter)
	log.Infof("Setting log level to %v", level)
	log.SetLevel(level)
}

// SetupConfigWatcher - Uses viper config change watcher to watch for
// config change events on the yaml file. Mounted config maps work too as
// viper evaluates the symlinks.
func SetupConfigWatcher(v *viper.Viper, f func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("Received a config change event %s for %s", e.Op.String(), e.Name)
		config, err := unmarshalConfig(v)
		if err != nil {
			return
		}
		f(config)
	})
	v.WatchConfig()
}

// OnConfigChange applies the settings that can change without a restart
func OnConfigChange(config *Config) {
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		config.LogLevel = v
	}
	UpdateLogParams(config.LogFormat, config.LogLevel)
}
