package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"runtime"

	"gopkg.in/yaml.v2"
)

const (
	configDir       string = "sgxdbg"
	configDirHidden string = ".sgxdbg"
	configFile      string = "config.yml"
)

// Section table readers selectable through the section-reader option.
const (
	SectionReaderReadelf = "readelf"
	SectionReaderELF     = "elf"
)

// DefaultTrustedLibraries lists the runtime libraries whose code is
// allowed to raise enclave notifications.
var DefaultTrustedLibraries = []string{"libsgx_urts.so", "libsgx_urts_sim.so", "libsgx_aesm_service.so"}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// SolibSearchPath is the directory enclave images are looked up in
	// when the path recorded by the runtime does not exist locally.
	SolibSearchPath string `yaml:"solib-search-path,omitempty"`

	// UsageReporting enables the peak stack/heap report printed when an
	// enclave is unloaded.
	UsageReporting *bool `yaml:"usage-reporting,omitempty"`

	// TrustedLibraries overrides the list of runtime libraries that may
	// raise enclave notifications.
	TrustedLibraries []string `yaml:"trusted-libraries,omitempty"`

	// SectionCacheSize is the number of section tables kept in memory.
	SectionCacheSize *int `yaml:"section-cache-size,omitempty"`

	// SectionReader selects how section tables are produced, either
	// "readelf" (the default) or "elf".
	SectionReader string `yaml:"section-reader,omitempty"`

	// MaxThreads bounds the walk of an enclave's thread list.
	MaxThreads *int `yaml:"max-threads,omitempty"`
}

// Usage returns whether usage reporting starts enabled.
func (c *Config) Usage() bool {
	if c == nil || c.UsageReporting == nil {
		return true
	}
	return *c.UsageReporting
}

// Trusted returns the configured trusted libraries or the defaults.
func (c *Config) Trusted() []string {
	if c == nil || len(c.TrustedLibraries) == 0 {
		return DefaultTrustedLibraries
	}
	return c.TrustedLibraries
}

// CacheSize returns the configured section cache size, 16 if unset.
func (c *Config) CacheSize() int {
	if c == nil || c.SectionCacheSize == nil || *c.SectionCacheSize <= 0 {
		return 16
	}
	return *c.SectionCacheSize
}

// ThreadLimit returns the configured thread walk bound, 4096 if unset.
func (c *Config) ThreadLimit() int {
	if c == nil || c.MaxThreads == nil || *c.MaxThreads <= 0 {
		return 4096
	}
	return *c.MaxThreads
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	return Parse(data)
}

// Parse decodes the contents of a configuration file.
func Parse(data []byte) (*Config, error) {
	var c Config
	err := yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}
	switch c.SectionReader {
	case "", SectionReaderReadelf, SectionReaderELF:
	default:
		return &c, fmt.Errorf("unknown section-reader %q", c.SectionReader)
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for sgxdbg.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Directory enclave images are searched in when the path recorded by the
# runtime does not exist on this machine.
# solib-search-path: /opt/intel/sgxsdk/lib64

# Print the peak stack and heap usage of an enclave when it is unloaded.
# usage-reporting: true

# Runtime libraries allowed to raise enclave notifications.
# trusted-libraries: ["libsgx_urts.so", "libsgx_urts_sim.so", "libsgx_aesm_service.so"]

# Number of section tables kept in memory.
# section-cache-size: 16

# How section tables are produced: "readelf" runs readelf -W -S, "elf" reads
# the section headers directly.
# section-reader: readelf

# Maximum number of threads read from an enclave's thread list.
# max-threads: 4096
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("SGXDBG_CONFIG_DIR"); configPath != "" {
		return path.Join(configPath, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}

	// Use hidden directory if it already exists, or fall back to the
	// XDG location on linux.
	hidden := path.Join(userHomeDir, configDirHidden)
	if _, err := os.Stat(hidden); err == nil || runtime.GOOS != "linux" {
		return path.Join(hidden, file), nil
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return path.Join(xdg, configDir, file), nil
	}
	return path.Join(userHomeDir, ".config", configDir, file), nil
}
