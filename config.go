package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
)

// PlanConfig holds the full TOML-driven recipe planning configuration.
type PlanConfig struct {
	Name                 string            `toml:"name"`
	Inputs               []string          `toml:"inputs"`
	InferCaseInsensitive bool              `toml:"infer_case_insensitive"`
	Source               SourceConfig      `toml:"source"`
	TypeMapping          TypeMappingConfig `toml:"type_mapping"`
	Output               OutputConfig      `toml:"output"`
	Store                StoreConfig       `toml:"store"`
	Hooks                HooksConfig       `toml:"hooks"`
	Joins                []JoinConfig      `toml:"join"`

	// configDir is the directory containing the TOML file, used to resolve relative paths.
	configDir string
}

// SourceConfig identifies the database holding the recipe inputs.
// The DSN may be supplied through JOINFERRY_SOURCE_DSN instead of the file.
type SourceConfig struct {
	Type    string `toml:"type"` // mysql|sqlite|postgres|mssql
	DSN     string `toml:"dsn" env:"JOINFERRY_SOURCE_DSN"`
	Charset string `toml:"charset"` // MySQL only (default: "utf8mb4")
	Schema  string `toml:"schema"`  // PostgreSQL/SQL Server namespace
}

// TypeMappingConfig controls how ambiguous source types are classified.
type TypeMappingConfig struct {
	TinyInt1AsBoolean bool `toml:"tinyint1_as_boolean"`
	UnknownAsString   bool `toml:"unknown_as_string"`
}

type OutputConfig struct {
	Path   string `toml:"path"`   // empty writes to stdout
	Format string `toml:"format"` // json|yaml
}

// StoreConfig points at the optional PostgreSQL recipe store.
type StoreConfig struct {
	DSN            string `toml:"dsn" env:"JOINFERRY_STORE_DSN"`
	Schema         string `toml:"schema"`
	OnSchemaExists string `toml:"on_schema_exists"` // reuse|recreate|error
}

type HooksConfig struct {
	BeforeSave []string `toml:"before_save"`
	AfterSave  []string `toml:"after_save"`
}

// JoinConfig describes one join between two inputs.
type JoinConfig struct {
	Table1         *int              `toml:"table1"`
	Table2         *int              `toml:"table2"`
	Type           string            `toml:"type"`
	ConditionsMode string            `toml:"conditions_mode"`
	On             []ConditionConfig `toml:"on"`
}

// ConditionConfig is a user-authored join condition. Unset fields are filled
// in by the planner from the operand types.
type ConditionConfig struct {
	Column1      string         `toml:"column1"`
	Column2      string         `toml:"column2"`
	Type         string         `toml:"type"`
	DistanceType string         `toml:"distance_type"`
	Threshold    *float64       `toml:"threshold"`
	Normalise    *NormaliseDesc `toml:"normalise"`
}

func (j JoinConfig) table1() int {
	if j.Table1 == nil {
		return 0
	}
	return *j.Table1
}

func (j JoinConfig) table2() int {
	if j.Table2 == nil {
		return 1
	}
	return *j.Table2
}

// loadConfig reads a TOML config file and returns a PlanConfig with defaults applied.
func loadConfig(path string) (*PlanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := PlanConfig{
		InferCaseInsensitive: true,
		Output:               OutputConfig{Format: "json"},
		Store:                StoreConfig{Schema: "joinferry", OnSchemaExists: "reuse"},
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	// Secrets from the environment win over the file.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.configDir = filepath.Dir(absPath)

	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if len(cfg.Inputs) < 2 {
		return nil, fmt.Errorf("inputs must list at least two datasets")
	}
	for i, in := range cfg.Inputs {
		if strings.TrimSpace(in) == "" {
			return nil, fmt.Errorf("inputs[%d] is empty", i)
		}
	}

	// Source validation
	if cfg.Source.Type == "" {
		return nil, fmt.Errorf("source.type is required (must be mysql, sqlite, postgres or mssql)")
	}
	src, err := newSourceDB(cfg.Source.Type)
	if err != nil {
		return nil, err
	}
	if cfg.Source.DSN == "" {
		return nil, fmt.Errorf("source.dsn is required")
	}
	if cfg.Source.Charset != "" && cfg.Source.Type != "mysql" {
		return nil, fmt.Errorf("source.charset is a MySQL-only option")
	}
	if cfg.Source.Type == "mysql" && cfg.Source.Charset == "" {
		cfg.Source.Charset = "utf8mb4"
	}
	if cfg.Source.Schema != "" && cfg.Source.Type != "postgres" && cfg.Source.Type != "mssql" {
		return nil, fmt.Errorf("source.schema is only supported for postgres and mssql sources")
	}
	if err := src.ValidateTypeMapping(cfg.TypeMapping); err != nil {
		return nil, err
	}

	switch cfg.Output.Format {
	case "json", "yaml":
	default:
		return nil, fmt.Errorf("output.format must be one of: json, yaml")
	}

	cfg.Store.Schema = strings.TrimSpace(cfg.Store.Schema)
	if cfg.Store.Schema == "" {
		return nil, fmt.Errorf("store.schema must not be empty")
	}
	switch cfg.Store.OnSchemaExists {
	case "reuse", "recreate", "error":
	default:
		return nil, fmt.Errorf("store.on_schema_exists must be one of: reuse, recreate, error")
	}
	if cfg.Store.DSN == "" && (len(cfg.Hooks.BeforeSave) > 0 || len(cfg.Hooks.AfterSave) > 0) {
		return nil, fmt.Errorf("hooks require store.dsn")
	}

	if len(cfg.Joins) == 0 {
		return nil, fmt.Errorf("at least one [[join]] is required")
	}
	for i := range cfg.Joins {
		if err := validateJoinConfig(&cfg.Joins[i], len(cfg.Inputs)); err != nil {
			return nil, fmt.Errorf("join[%d]: %w", i, err)
		}
	}

	return &cfg, nil
}

// validateJoinConfig checks enum values and table indexes, applying defaults.
func validateJoinConfig(j *JoinConfig, inputs int) error {
	t1, t2 := j.table1(), j.table2()
	if t1 < 0 || t1 >= inputs {
		return fmt.Errorf("table1 %d out of range (%d inputs)", t1, inputs)
	}
	if t2 < 0 || t2 >= inputs {
		return fmt.Errorf("table2 %d out of range (%d inputs)", t2, inputs)
	}
	if t1 == t2 {
		return fmt.Errorf("table1 and table2 must differ")
	}

	j.Type = strings.ToUpper(j.Type)
	if j.Type == "" {
		j.Type = string(JoinLeft)
	}
	switch JoinType(j.Type) {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
	default:
		return fmt.Errorf("type must be one of: INNER, LEFT, RIGHT, FULL")
	}

	j.ConditionsMode = strings.ToUpper(j.ConditionsMode)
	if j.ConditionsMode == "" {
		j.ConditionsMode = ConditionsModeAnd
	}
	switch j.ConditionsMode {
	case ConditionsModeAnd, ConditionsModeOr:
	default:
		return fmt.Errorf("conditions_mode must be one of: AND, OR")
	}

	for k := range j.On {
		c := &j.On[k]
		if c.Column1 == "" || c.Column2 == "" {
			return fmt.Errorf("on[%d]: column1 and column2 are required", k)
		}
		c.Type = strings.ToUpper(c.Type)
		if c.Type == "" {
			c.Type = string(ConditionEQ)
		}
		switch ConditionType(c.Type) {
		case ConditionEQ, ConditionNE, ConditionLT, ConditionLTE, ConditionGT, ConditionGTE:
		default:
			return fmt.Errorf("on[%d]: type must be one of: EQ, NE, LT, LTE, GT, GTE", k)
		}
		c.DistanceType = strings.ToUpper(c.DistanceType)
		if c.DistanceType != "" && !isKnownDistanceType(DistanceType(c.DistanceType)) {
			return fmt.Errorf("on[%d]: unknown distance_type %q", k, c.DistanceType)
		}
		if c.Threshold != nil {
			if math.IsNaN(*c.Threshold) || math.IsInf(*c.Threshold, 0) {
				return fmt.Errorf("on[%d]: threshold must be a finite number", k)
			}
			if *c.Threshold < 0 {
				return fmt.Errorf("on[%d]: threshold must not be negative", k)
			}
		}
	}
	return nil
}

// resolvePath resolves a path relative to the config file directory.
func (c *PlanConfig) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.configDir, p)
}
