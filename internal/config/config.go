// Package config loads the hswatch run configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hswatch/internal/engine"
	"github.com/roach88/hswatch/internal/tables"
)

// Config is the complete run configuration. Zero-valued fields in the file
// keep the values from Default.
type Config struct {
	CyclePeriod    time.Duration `yaml:"cycle_period" validate:"gt=0"`
	TimeSyncPeriod time.Duration `yaml:"time_sync_period" validate:"gt=0"`
	SelfName       string        `yaml:"self_name" validate:"required,max=20"`
	PipeDepth      int           `yaml:"pipe_depth" validate:"min=1,max=4096"`

	Tables Tables `yaml:"tables"`
	Store  Store  `yaml:"store"`

	DefaultMaxResets uint16      `yaml:"default_max_resets"`
	Initial          Initial     `yaml:"initial"`
	Aliveness        Aliveness   `yaml:"aliveness"`
	Utilization      Utilization `yaml:"utilization"`

	MetricsAddr        string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	HousekeepingPeriod time.Duration `yaml:"housekeeping_period" validate:"gte=0"`
}

// Tables locates the rule tables. Dir holds files named after their kind;
// an explicit path overrides the file for that kind.
type Tables struct {
	Dir         string `yaml:"dir" validate:"required_without_all=AppMon EventMon MsgAct"`
	AppMon      string `yaml:"appmon"`
	EventMon    string `yaml:"eventmon"`
	MsgAct      string `yaml:"msgact"`
	ExecCounter string `yaml:"execcounter"`
	Watch       bool   `yaml:"watch"`
}

// Store locates the persistent Reset Guard database.
type Store struct {
	Path string `yaml:"path" validate:"required"`
}

// Initial selects which monitors start enabled.
type Initial struct {
	AppMon    bool `yaml:"appmon"`
	EventMon  bool `yaml:"eventmon"`
	Aliveness bool `yaml:"aliveness"`
	CPUHog    bool `yaml:"cpuhog"`
}

// Aliveness configures the aliveness indicator.
type Aliveness struct {
	Period uint32 `yaml:"period" validate:"gt=0"`
}

// Utilization configures the CPU utilization monitor.
type Utilization struct {
	Total             uint32        `yaml:"total" validate:"gt=0"`
	Mult1             uint32        `yaml:"mult1" validate:"gt=0"`
	Mult2             uint32        `yaml:"mult2" validate:"gt=0"`
	Div               uint32        `yaml:"div" validate:"gt=0"`
	Mask              uint32        `yaml:"mask"`
	CallsPerMark      uint32        `yaml:"calls_per_mark" validate:"gt=0"`
	HoggingThreshold  uint32        `yaml:"hogging_threshold" validate:"ltefield=Total"`
	MaxHoggingCycles  uint32        `yaml:"max_hogging_cycles" validate:"gt=0"`
	AverageIntervals  int           `yaml:"average_intervals" validate:"gt=0,ltefield=PeakIntervals"`
	PeakIntervals     int           `yaml:"peak_intervals" validate:"gt=0,max=1024"`
	HogReportInterval time.Duration `yaml:"hog_report_interval" validate:"gte=0"`
}

// Default returns the configuration used for every field the file omits.
func Default() Config {
	u := engine.DefaultUtilizationConfig()
	return Config{
		CyclePeriod:    engine.DefaultCyclePeriod,
		TimeSyncPeriod: engine.DefaultTimeSyncPeriod,
		SelfName:       engine.DefaultSelfName,
		PipeDepth:      engine.DefaultPipeDepth,
		Tables:         Tables{Dir: "tables", Watch: true},
		Store:          Store{Path: "hswatch.db"},

		DefaultMaxResets: engine.DefaultMaxResets,
		Initial:          Initial{AppMon: true, EventMon: true, Aliveness: true, CPUHog: true},
		Aliveness:        Aliveness{Period: engine.DefaultAlivenessPeriod},
		Utilization: Utilization{
			Total:             u.Total,
			Mult1:             u.Mult1,
			Mult2:             u.Mult2,
			Div:               u.Div,
			Mask:              u.Mask,
			CallsPerMark:      u.CallsPerMark,
			HoggingThreshold:  u.HoggingThreshold,
			MaxHoggingCycles:  u.MaxHoggingCycles,
			AverageIntervals:  u.AverageIntervals,
			PeakIntervals:     u.PeakIntervals,
			HogReportInterval: u.HogReportInterval,
		},
		HousekeepingPeriod: 10 * time.Second,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the configuration file at path. Relative table and store
// paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes and validates a configuration document.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// fieldPath drops the root struct name from the validator namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Tables.Dir = abs(c.Tables.Dir)
	c.Tables.AppMon = abs(c.Tables.AppMon)
	c.Tables.EventMon = abs(c.Tables.EventMon)
	c.Tables.MsgAct = abs(c.Tables.MsgAct)
	c.Tables.ExecCounter = abs(c.Tables.ExecCounter)
	c.Store.Path = abs(c.Store.Path)
}

// Path returns the file for a table kind: the explicit path when set,
// otherwise the conventional file name inside Dir.
func (t Tables) Path(kind tables.Kind) string {
	var explicit string
	switch kind {
	case tables.KindAppMon:
		explicit = t.AppMon
	case tables.KindEventMon:
		explicit = t.EventMon
	case tables.KindMsgAct:
		explicit = t.MsgAct
	case tables.KindExecCounter:
		explicit = t.ExecCounter
	}
	if explicit != "" {
		return explicit
	}
	return filepath.Join(t.Dir, tables.FileName(kind))
}

// UtilizationConfig converts the utilization section for the engine.
func (c Config) UtilizationConfig() engine.UtilizationConfig {
	u := c.Utilization
	return engine.UtilizationConfig{
		Total:             u.Total,
		Mult1:             u.Mult1,
		Mult2:             u.Mult2,
		Div:               u.Div,
		Mask:              u.Mask,
		CallsPerMark:      u.CallsPerMark,
		HoggingThreshold:  u.HoggingThreshold,
		MaxHoggingCycles:  u.MaxHoggingCycles,
		AverageIntervals:  u.AverageIntervals,
		PeakIntervals:     u.PeakIntervals,
		HogReportInterval: u.HogReportInterval,
	}
}

// EngineOptions returns the engine options this configuration selects.
// Aliveness output goes to w.
func (c Config) EngineOptions(w io.Writer) []engine.EngineOption {
	return []engine.EngineOption{
		engine.WithPeriods(c.CyclePeriod, c.TimeSyncPeriod),
		engine.WithSelfName(c.SelfName),
		engine.WithPipeDepth(c.PipeDepth),
		engine.WithDefaultMaxResets(c.DefaultMaxResets),
		engine.WithInitialState(engine.InitialState{
			AppMon:    c.Initial.AppMon,
			EventMon:  c.Initial.EventMon,
			Aliveness: c.Initial.Aliveness,
			CPUHog:    c.Initial.CPUHog,
		}),
		engine.WithAliveness(w, c.Aliveness.Period),
		engine.WithUtilizationConfig(c.UtilizationConfig()),
	}
}
