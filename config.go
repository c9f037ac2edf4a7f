package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"PresenceSensor/engine"
	"PresenceSensor/pipeline"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath = "config.yaml"
	configPathEnv     = "PRESENCE_CONFIG"
	gpioDisabled      = "none"
)

type cameraConfig struct {
	Source string `yaml:"source"`
	Polled bool   `yaml:"polled"`
}

type mqttConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"clientID"`
}

type outputsConfig struct {
	LED  string     `yaml:"led"`
	GPIO string     `yaml:"gpio"`
	Log  bool       `yaml:"log"`
	MQTT mqttConfig `yaml:"mqtt"`
}

type configStruct struct {
	Variant        string               `yaml:"variant"`
	LogMode        string               `yaml:"logMode"`
	SettleDelay    string               `yaml:"settleDelay"`
	CaptureTimeout string               `yaml:"captureTimeout"`
	Camera         cameraConfig         `yaml:"camera"`
	Backend        engine.BackendConfig `yaml:"backend"`
	Outputs        outputsConfig        `yaml:"outputs"`
	RPCPort        int                  `yaml:"RPCPort"`
	APIPort        int                  `yaml:"APIPort"`
	MetricsPort    int                  `yaml:"MetricsPort"`
	UseRegServer   bool                 `yaml:"UseRegServer"`
	RegServerPort  int                  `yaml:"RegServerPort"`
	RegServerHost  string               `yaml:"RegServerHost"`

	settle  time.Duration
	timeout time.Duration
}

// configPath resolves the config file, honouring PRESENCE_CONFIG from the environment or .env.
func configPath() (string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("load .env: %w", err)
	}
	if p := os.Getenv(configPathEnv); p != "" {
		return p, nil
	}
	return defaultConfigPath, nil
}

func loadConfig(path string) (configStruct, error) {
	config := configStruct{}
	configData, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(configData, &config); err != nil {
		return config, fmt.Errorf("parse config file: %w", err)
	}
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *configStruct) applyDefaults() {
	if c.Variant == "" {
		c.Variant = pipeline.VariantHeuristic
	}
	if c.Camera.Source == "" {
		c.Camera.Source = "0"
	}
	if c.SettleDelay == "" {
		c.SettleDelay = pipeline.SettleDelay.String()
	}
	// the inference board drives its presence line unless told otherwise
	if c.Variant == pipeline.VariantCNN && c.Outputs.GPIO == "" {
		c.Outputs.GPIO = pipeline.DefaultOutputPin
	}
	if c.Outputs.GPIO == gpioDisabled {
		c.Outputs.GPIO = ""
	}
	if c.Outputs.MQTT.Broker != "" && c.Outputs.MQTT.Topic == "" {
		c.Outputs.MQTT.Topic = "presence"
	}
}

func (c *configStruct) validate() error {
	switch c.Variant {
	case pipeline.VariantHeuristic, pipeline.VariantCNN:
	default:
		return fmt.Errorf("invalid variant %q", c.Variant)
	}
	if c.Variant == pipeline.VariantCNN && c.Backend.UseBackend != engine.BackendMMIO && c.Backend.ModelPath == "" {
		return errors.New("cnn variant needs backend.modelPath")
	}
	var err error
	if c.settle, err = time.ParseDuration(c.SettleDelay); err != nil {
		return fmt.Errorf("invalid settleDelay: %w", err)
	}
	if c.CaptureTimeout != "" {
		if c.timeout, err = time.ParseDuration(c.CaptureTimeout); err != nil {
			return fmt.Errorf("invalid captureTimeout: %w", err)
		}
	}
	for name, port := range map[string]int{"RPCPort": c.RPCPort, "APIPort": c.APIPort, "MetricsPort": c.MetricsPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid %s %d", name, port)
		}
	}
	if c.UseRegServer && c.RegServerHost == "" {
		return errors.New("UseRegServer needs RegServerHost")
	}
	return nil
}
