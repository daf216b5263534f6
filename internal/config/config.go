// Package config loads the settings shared by the publisher and actuator
// binaries from a YAML file, with command-line flags taking precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ayusman/thumbswitch/internal/actuator"
	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/hardware"
)

// EnvConfigPath names the environment variable consulted when no -config
// flag is given.
const EnvConfigPath = "THUMBSWITCH_CONFIG"

// Defaults that have no other owning package.
const (
	// DefaultBusAddr is where the actuator listens and the publisher dials.
	DefaultBusAddr = "127.0.0.1:7447"

	// DefaultModelPath is the gesture recognizer asset.
	DefaultModelPath = "gesture_recognizer.task"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds every setting of both processes. Each binary reads the keys it
// needs; unknown keys in the file are ignored.
type Config struct {
	// Publisher
	ModelPath     string  `yaml:"model_path"`
	CameraID      int     `yaml:"camera_id"`
	VideoPath     string  `yaml:"video_path"`
	FPS           int     `yaml:"fps"`
	MinConfidence float64 `yaml:"min_confidence"`

	// Bus
	ChannelName string `yaml:"channel_name"`
	BusAddr     string `yaml:"bus_addr"`
	QueueDepth  int    `yaml:"queue_depth"`

	// Actuator
	PinID        int           `yaml:"pin_id"`
	HoldDuration time.Duration `yaml:"hold_duration"`
	PinDriver    string        `yaml:"pin_driver"`
	GPIOChip     string        `yaml:"gpio_chip"`
	SerialPort   string        `yaml:"serial_port"`
	SerialBaud   int           `yaml:"serial_baud"`
	JournalPath  string        `yaml:"journal_path"`

	LogFile string `yaml:"log_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ModelPath:    DefaultModelPath,
		ChannelName:  bus.DefaultChannel,
		BusAddr:      DefaultBusAddr,
		QueueDepth:   bus.DefaultQueueDepth,
		PinID:        hardware.DefaultPinID,
		HoldDuration: actuator.DefaultHold,
		PinDriver:    hardware.DriverGPIOCDev,
		GPIOChip:     hardware.DefaultChip,
		SerialPort:   "/dev/ttyUSB0",
		SerialBaud:   hardware.DefaultSerialBaud,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path falls back to $THUMBSWITCH_CONFIG, and to the defaults alone when that
// is unset too.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.ChannelName != "" && !strings.Contains(c.ChannelName, "/"),
		"channel_name %q must be non-empty and contain no '/'", c.ChannelName)
	check(c.BusAddr != "", "bus_addr is required")
	check(c.QueueDepth > 0, "queue_depth %d must be positive", c.QueueDepth)
	check(c.PinID >= 0, "pin_id %d must not be negative", c.PinID)
	check(c.HoldDuration > 0, "hold_duration %s must be positive", c.HoldDuration)
	check(c.MinConfidence >= 0 && c.MinConfidence <= 1,
		"min_confidence %g must be within [0, 1]", c.MinConfidence)
	check(c.CameraID >= 0, "camera_id %d must not be negative", c.CameraID)
	check(c.FPS >= 0, "fps %d must not be negative", c.FPS)

	switch c.PinDriver {
	case hardware.DriverGPIOCDev, "":
		check(c.GPIOChip != "", "gpio_chip is required for the gpiocdev driver")
	case hardware.DriverSerial:
		check(c.SerialPort != "", "serial_port is required for the serial driver")
		check(c.SerialBaud > 0, "serial_baud %d must be positive", c.SerialBaud)
	case hardware.DriverMock:
	default:
		check(false, "pin_driver %q must be one of gpiocdev, serial, mock", c.PinDriver)
	}

	return errors.Join(errs...)
}

// PinOptions returns the hardware options for the configured driver.
func (c Config) PinOptions() hardware.Options {
	return hardware.Options{
		Driver:     c.PinDriver,
		PinID:      c.PinID,
		Chip:       c.GPIOChip,
		SerialPort: c.SerialPort,
		SerialBaud: c.SerialBaud,
	}
}

// Flags binds command-line overrides to a FlagSet. Only flags that were set
// explicitly are applied, so file values survive unset flags.
type Flags struct {
	fs     *flag.FlagSet
	vals   Config
	path   *string
	setter map[string]func(dst *Config)
}

// RegisterFlags defines -config plus one flag per key on fs.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	d := DefaultConfig()
	f := &Flags{fs: fs, vals: d, setter: map[string]func(*Config){}}
	v := &f.vals

	f.path = fs.String("config", "", "path to YAML config file (default $"+EnvConfigPath+")")

	fs.StringVar(&v.ModelPath, "model", d.ModelPath, "gesture recognizer model path")
	f.setter["model"] = func(c *Config) { c.ModelPath = v.ModelPath }
	fs.IntVar(&v.CameraID, "camera", d.CameraID, "camera device ID")
	f.setter["camera"] = func(c *Config) { c.CameraID = v.CameraID }
	fs.StringVar(&v.VideoPath, "video", d.VideoPath, "read frames from a video file instead of a camera")
	f.setter["video"] = func(c *Config) { c.VideoPath = v.VideoPath }
	fs.IntVar(&v.FPS, "fps", d.FPS, "frames per second to process (0 = as delivered)")
	f.setter["fps"] = func(c *Config) { c.FPS = v.FPS }
	fs.Float64Var(&v.MinConfidence, "min-confidence", d.MinConfidence, "drop gestures scoring below this")
	f.setter["min-confidence"] = func(c *Config) { c.MinConfidence = v.MinConfidence }

	fs.StringVar(&v.ChannelName, "channel", d.ChannelName, "bus channel name")
	f.setter["channel"] = func(c *Config) { c.ChannelName = v.ChannelName }
	fs.StringVar(&v.BusAddr, "addr", d.BusAddr, "bus address (actuator listens, publisher dials)")
	f.setter["addr"] = func(c *Config) { c.BusAddr = v.BusAddr }
	fs.IntVar(&v.QueueDepth, "queue-depth", d.QueueDepth, "subscriber queue depth")
	f.setter["queue-depth"] = func(c *Config) { c.QueueDepth = v.QueueDepth }

	fs.IntVar(&v.PinID, "pin", d.PinID, "output pin (BCM line offset)")
	f.setter["pin"] = func(c *Config) { c.PinID = v.PinID }
	fs.DurationVar(&v.HoldDuration, "hold", d.HoldDuration, "minimum time between pin transitions")
	f.setter["hold"] = func(c *Config) { c.HoldDuration = v.HoldDuration }
	fs.StringVar(&v.PinDriver, "driver", d.PinDriver, "pin driver: gpiocdev, serial, mock")
	f.setter["driver"] = func(c *Config) { c.PinDriver = v.PinDriver }
	fs.StringVar(&v.GPIOChip, "chip", d.GPIOChip, "GPIO chip for the gpiocdev driver")
	f.setter["chip"] = func(c *Config) { c.GPIOChip = v.GPIOChip }
	fs.StringVar(&v.SerialPort, "serial-port", d.SerialPort, "serial port for the relay driver")
	f.setter["serial-port"] = func(c *Config) { c.SerialPort = v.SerialPort }
	fs.IntVar(&v.SerialBaud, "serial-baud", d.SerialBaud, "serial baud rate for the relay driver")
	f.setter["serial-baud"] = func(c *Config) { c.SerialBaud = v.SerialBaud }
	fs.StringVar(&v.JournalPath, "journal", d.JournalPath, "SQLite transition journal (empty disables)")
	f.setter["journal"] = func(c *Config) { c.JournalPath = v.JournalPath }

	fs.StringVar(&v.LogFile, "log-file", d.LogFile, "also write logs to this rotating file")
	f.setter["log-file"] = func(c *Config) { c.LogFile = v.LogFile }

	return f
}

// Path returns the -config value.
func (f *Flags) Path() string {
	return *f.path
}

// Apply copies every explicitly set flag into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		if set, ok := f.setter[fl.Name]; ok {
			set(cfg)
		}
	})
}

// Resolve parses args, loads the config file and applies flag overrides,
// then validates the result.
func Resolve(fs *flag.FlagSet, args []string) (Config, error) {
	f := RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(f.Path())
	if err != nil {
		return cfg, err
	}
	f.Apply(&cfg)

	return cfg, cfg.Validate()
}
