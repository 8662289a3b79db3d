package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"transfer_cavity_lock/internal/hardware"
	"transfer_cavity_lock/internal/hardware/serialdaq"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/logger"
	"transfer_cavity_lock/internal/server"
	"transfer_cavity_lock/internal/service"
)

const (
	driverSim    = "sim"
	driverSerial = "serial"
)

// hardwareConfig selects and configures the DAQ.
type hardwareConfig struct {
	Driver  string                `mapstructure:"driver"`
	Port    string                `mapstructure:"port"`
	Serial  serialdaq.PortOptions `mapstructure:"serial"`
	Timeout time.Duration         `mapstructure:"timeout"`
}

// appConfig is everything serve reads from viper.
type appConfig struct {
	Port       string
	LogLevel   string
	DBPath     string
	ArchiveDir string
	Element    string
	HTTP       server.Options
	Auth       service.AuthConfig
	Hardware   hardwareConfig
	Sim        hardware.SimConfig
	Lock       lock.Config
}

// loadConfig reads configs/config.yml (or path) and TCL_* environment
// overrides. A missing default config file is not an error.
func loadConfig(v *viper.Viper, path string) error {
	setDefaults(v)

	v.SetEnvPrefix("TCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		return v.ReadInConfig()
	}
	v.AddConfigPath("configs") // configs/config.yml
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", logger.InfoLevel)
	v.SetDefault("db.path", "tcl.db")
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.element", "tcl")
	v.SetDefault("auth.token_ttl", time.Hour)

	v.SetDefault("hardware.driver", driverSim)
	v.SetDefault("hardware.timeout", 3*time.Second)
	v.SetDefault("hardware.serial.baud", 115200)

	lc := lock.DefaultConfig()
	v.SetDefault("lock.laser_min", lc.LaserMin)
	v.SetDefault("lock.laser_max", lc.LaserMax)
	v.SetDefault("lock.cavity_min", lc.CavityMin)
	v.SetDefault("lock.cavity_max", lc.CavityMax)
	v.SetDefault("lock.ramp_epsilon", lc.RampEpsilon)
	v.SetDefault("lock.cavity_fit_width", lc.CavityFitWidth)
	v.SetDefault("lock.laser_fit_width", lc.LaserFitWidth)
	v.SetDefault("lock.fit_iterations", lc.FitIterations)
	v.SetDefault("lock.window_tolerance", lc.WindowTolerance)
	v.SetDefault("lock.tweak_gain", lc.TweakGain)
	v.SetDefault("lock.loop_period", lc.LoopPeriod)
	v.SetDefault("lock.scan_timeout", lc.ScanTimeout)
	v.SetDefault("lock.step_down_steps", lc.StepDownSteps)
	v.SetDefault("lock.step_down_delay", lc.StepDownDelay)
	v.SetDefault("lock.command_queue", lc.CommandQueue)
	v.SetDefault("lock.defaults.steps", lc.Defaults.Steps)
	v.SetDefault("lock.defaults.scan_offset", lc.Defaults.ScanOffset)
	v.SetDefault("lock.defaults.scan_width", lc.Defaults.ScanWidth)
	v.SetDefault("lock.defaults.gain", lc.Defaults.Gain)
	v.SetDefault("lock.defaults.laser_voltage", lc.Defaults.LaserVoltage)

	sc := hardware.DefaultSimConfig()
	v.SetDefault("simulator.cavity_peak", sc.CavityPeak)
	v.SetDefault("simulator.cavity_width", sc.CavityWidth)
	v.SetDefault("simulator.cavity_amplitude", sc.CavityAmplitude)
	v.SetDefault("simulator.laser_peak", sc.LaserPeak)
	v.SetDefault("simulator.laser_width", sc.LaserWidth)
	v.SetDefault("simulator.laser_amplitude", sc.LaserAmplitude)
	v.SetDefault("simulator.laser_coupling", sc.LaserCoupling)
	v.SetDefault("simulator.drift", sc.Drift)
	v.SetDefault("simulator.noise", sc.Noise)
	v.SetDefault("simulator.seed", sc.Seed)
	v.SetDefault("simulator.sample_period", sc.SamplePeriod)
}

// readAppConfig decodes v into an appConfig and validates the lock section.
func readAppConfig(v *viper.Viper) (appConfig, error) {
	cfg := appConfig{
		Port:       v.GetString("port"),
		LogLevel:   v.GetString("log_level"),
		DBPath:     v.GetString("db.path"),
		ArchiveDir: v.GetString("archive.dir"),
		Element:    v.GetString("archive.element"),
		Lock:       lock.DefaultConfig(),
		Sim:        hardware.DefaultSimConfig(),
	}
	if err := v.UnmarshalKey("http", &cfg.HTTP); err != nil {
		return cfg, fmt.Errorf("decode http config: %w", err)
	}
	if err := v.UnmarshalKey("auth", &cfg.Auth); err != nil {
		return cfg, fmt.Errorf("decode auth config: %w", err)
	}
	if err := v.UnmarshalKey("hardware", &cfg.Hardware); err != nil {
		return cfg, fmt.Errorf("decode hardware config: %w", err)
	}
	if err := v.UnmarshalKey("simulator", &cfg.Sim); err != nil {
		return cfg, fmt.Errorf("decode simulator config: %w", err)
	}
	if err := v.UnmarshalKey("lock", &cfg.Lock); err != nil {
		return cfg, fmt.Errorf("decode lock config: %w", err)
	}
	if err := cfg.Lock.Validate(); err != nil {
		return cfg, err
	}
	switch cfg.Hardware.Driver {
	case driverSim:
	case driverSerial:
		if cfg.Hardware.Port == "" {
			return cfg, errors.New("hardware.port is required for the serial driver")
		}
	default:
		return cfg, fmt.Errorf("unknown hardware.driver %q: expected %q or %q", cfg.Hardware.Driver, driverSim, driverSerial)
	}
	return cfg, nil
}
