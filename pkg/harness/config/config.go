package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	// Args selects the device, e.g. "driver=icr8600,serial=12001234".
	Args         string        `yaml:"args"`
	Channel      int           `yaml:"channel"`
	SampleRate   float64       `yaml:"sample_rate"`
	Frequencies  []float64     `yaml:"frequencies,flow"`
	Format       string        `yaml:"format"`
	BufferLength int           `yaml:"buffer_length"`
	Reads        int           `yaml:"reads"`
	Settle       time.Duration `yaml:"settle"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	Gains        []GainPlan    `yaml:"gains"`

	// RecordLocation receives every read as raw little-endian CS16.
	RecordLocation string `yaml:"record_location"`
	// Hold keeps the viz server up after the scenario finishes.
	Hold bool `yaml:"hold"`

	VizServer struct {
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval"`
		OutputDir      string        `yaml:"output_dir"`
	} `yaml:"viz_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// GainPlan is a set+readback sequence for one gain stage.
type GainPlan struct {
	Stage  string    `yaml:"stage"`
	Label  string    `yaml:"label"`
	Values []float64 `yaml:"values,flow"`
}

// Default returns the stock IC-R8600 scenario.
func Default() Config {
	cfg := Config{
		Args:         "driver=icr8600",
		SampleRate:   240000,
		Frequencies:  []float64{10000000, 100000000},
		Format:       "CS16",
		BufferLength: 1024,
		Reads:        20,
		Settle:       2 * time.Second,
		ReadTimeout:  100 * time.Millisecond,
		Gains: []GainPlan{
			{Stage: "PRE-AMP", Label: "PRE-AMP Gain", Values: []float64{0, 14}},
			{Stage: "ATTENUATOR", Label: "Attenuator", Values: []float64{0, -10, -20, -30}},
			{Stage: "RF", Label: "RF Gain", Values: []float64{0, -32, -63.75}},
		},
	}
	cfg.VizServer.UpdateInterval = time.Second
	return cfg
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling yaml file: %w", err)
	}
	return cfg, nil
}
