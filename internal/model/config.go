package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	DefaultSweepCron = "@hourly"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version int     `json:"version" yaml:"version"` // fixed 0 for now
	Service Service `json:"service" yaml:"service"`
	Task    Task    `json:"task" yaml:"task"`
	Sweep   Sweep   `json:"sweep" yaml:"sweep"`
}

// Service configures the http gateway.
type Service struct {
	Verbose   bool   `json:"verbose" yaml:"verbose"`
	Listen    string `json:"listen" yaml:"listen"`
	Artifacts string `json:"artifacts" yaml:"artifacts"` // directory with produced csv files
}

// Task describes the external scrape command. Task parameters and the job id
// are appended to Args for every run.
type Task struct {
	Path    string            `json:"path" yaml:"path"`
	Args    []string          `json:"args" yaml:"args"`
	Dir     string            `json:"dir" yaml:"dir"`
	Timeout string            `json:"timeout" yaml:"timeout"` // ISO8601
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// Sweep controls eviction of old jobs. Cron takes precedence over Duration,
// when both are empty DefaultSweepCron is used.
type Sweep struct {
	Retention string `json:"retention" yaml:"retention"` // ISO8601
	Cron      string `json:"cron,omitempty" yaml:"cron,omitempty"`
	Duration  string `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	if err := out.validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// DefaultConfig returns the schema defaults
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("{}"))
	if err != nil {
		panic(fmt.Sprintf("default config does not match the schema: %v", err))
	}
	return cfg
}

func (c Config) validate() error {
	var errs []error
	if d, err := ParseISODuration(c.Task.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("task.timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("task.timeout: must be positive, got %s", d))
	}
	if d, err := ParseISODuration(c.Sweep.Retention); err != nil {
		errs = append(errs, fmt.Errorf("sweep.retention: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("sweep.retention: must be positive, got %s", d))
	}
	if _, err := c.Sweep.Schedule(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TimeoutDuration returns parsed task.timeout
func (t Task) TimeoutDuration() time.Duration {
	d, _ := ParseISODuration(t.Timeout)
	return d
}

// Environ returns the extra environment in KEY=value form, values starting with
// $ are expanded from the host environment.
func (t Task) Environ() []string {
	env := make([]string, 0, len(t.Env))
	for k, v := range t.Env {
		if strings.HasPrefix(v, "$") {
			v = os.ExpandEnv(v)
		}
		env = append(env, strings.ToUpper(k)+"="+v)
	}
	return env
}

// RetentionDuration returns parsed sweep.retention
func (s Sweep) RetentionDuration() time.Duration {
	d, _ := ParseISODuration(s.Retention)
	return d
}

// Schedule is either a cron expression or an interval
type Schedule struct {
	Cron     string
	Interval time.Duration
}

func (s Sweep) Schedule() (Schedule, error) {
	switch {
	case s.Cron != "":
		if _, err := ParseCron(s.Cron); err != nil {
			return Schedule{}, fmt.Errorf("sweep.cron: %w", err)
		}
		return Schedule{Cron: s.Cron}, nil
	case s.Duration != "":
		d, err := ParseISODuration(s.Duration)
		if err != nil {
			return Schedule{}, fmt.Errorf("sweep.duration: %w", err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("sweep.duration: must be positive, got %s", d)
		}
		return Schedule{Interval: d}, nil
	default:
		return Schedule{Cron: DefaultSweepCron}, nil
	}
}
