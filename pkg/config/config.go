package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".heapview"
	configFile string = "config.yml"
)

// DefaultMaxListLength is the iteration cap applied to every singly or
// doubly linked free list when the configuration does not set one.
const DefaultMaxListLength = 10000

// DefaultIndexCacheSize is the number of known-value indexes kept between
// commands for the same stop of the target.
const DefaultIndexCacheSize = 16

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Color forces colored output on or off. When unset colors are used
	// only if standard output is a terminal.
	Color *bool `yaml:"color,omitempty"`

	// CollapseNuls replaces runs of zero words inside a chunk with a
	// single [...] marker.
	CollapseNuls *bool `yaml:"collapse-nuls,omitempty"`

	// Palette is the list of colors used, in rotation, for consecutive
	// chunks. Valid names are black, red, green, yellow, blue, magenta,
	// cyan and white.
	Palette []string `yaml:"palette,omitempty"`

	// MaxListLength caps the number of nodes visited on a single free
	// list before the list is reported as corrupted.
	MaxListLength int `yaml:"max-list-length,omitempty"`

	// LibcVersion overrides the detected glibc version, e.g. "2.35".
	LibcVersion string `yaml:"libc-version,omitempty"`

	// IndexCacheSize is the number of known-value indexes memoized
	// between two resumes of the target.
	IndexCacheSize int `yaml:"index-cache-size,omitempty"`
}

// GetMaxListLength returns the configured list cap or the default.
func (c *Config) GetMaxListLength() int {
	if c == nil || c.MaxListLength <= 0 {
		return DefaultMaxListLength
	}
	return c.MaxListLength
}

// GetIndexCacheSize returns the configured cache size or the default.
func (c *Config) GetIndexCacheSize() int {
	if c == nil || c.IndexCacheSize <= 0 {
		return DefaultIndexCacheSize
	}
	return c.IndexCacheSize
}

// GetCollapseNuls returns whether zero runs should be collapsed, true
// unless disabled.
func (c *Config) GetCollapseNuls() bool {
	if c == nil || c.CollapseNuls == nil {
		return true
	}
	return *c.CollapseNuls
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	c, err := Decode(f)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}
	return c
}

// Decode reads a YAML configuration from r.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
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
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for heapview.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Force colored output on or off. By default colors are used when standard
# output is a terminal.
# color: true

# Collapse runs of zero words inside a chunk.
# collapse-nuls: true

# Colors used, in rotation, for consecutive chunks.
# palette: ["cyan", "red", "yellow", "blue", "green"]

# Maximum number of nodes followed on a single free list.
# max-list-length: 10000

# Override the glibc version of the target.
# libc-version: "2.35"

# Number of known-value indexes kept until the target resumes.
# index-cache-size: 16
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
	if dir := os.Getenv("HEAPVIEW_CONFIG_DIR"); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
