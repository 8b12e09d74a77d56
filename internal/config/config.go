// Package config loads the aggregated pipeline configuration from a
// YAML file. Fields absent from the file keep their component defaults,
// so a partial file only overrides what it names.
package config

// #region imports
import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/axo-lotto/felt/go-pipeline/internal/pipeline"
)

// #endregion

// #region settings

// Settings holds process-level options that live outside the pipeline
// components.
type Settings struct {
	DBPath  string `yaml:"db_path"`
	GenAddr string `yaml:"gen_addr"` // empty disables the generation sidecar
}

// DefaultSettings returns the defaults the demo binary runs with.
func DefaultSettings() Settings {
	return Settings{
		DBPath:  "felt_pipeline.db",
		GenAddr: "localhost:50051",
	}
}

// #endregion settings

// #region file-mirror

// file mirrors pipeline.Config with YAML tags. The component config
// structs stay tag-free; this is the only place the file format is
// defined. Durations are strings ("2s", "500ms"). Every override is a
// pointer: nil means "keep the default", so zero and false remain
// expressible values.
type file struct {
	DBPath  string `yaml:"db_path"`
	GenAddr string `yaml:"gen_addr"`

	Pool struct {
		QueryTimeout string `yaml:"query_timeout"`
	} `yaml:"pool"`

	Felt struct {
		MaxCycles             *int     `yaml:"max_cycles"`
		SatisfactionThreshold *float32 `yaml:"satisfaction_threshold"`
		MinEnergyDescent      *float32 `yaml:"min_energy_descent"`
		DescentRate           *float32 `yaml:"descent_rate"`
	} `yaml:"felt"`

	Safety struct {
		DistressOrgan  *string  `yaml:"distress_organ"`
		StateOrgan     *string  `yaml:"state_organ"`
		UrgencyOrgan   *string  `yaml:"urgency_organ"`
		DistressWeight *float32 `yaml:"distress_weight"`
		UrgencyWeight  *float32 `yaml:"urgency_weight"`
		RiskThreshold  *float32 `yaml:"risk_threshold"`
	} `yaml:"safety"`

	Coupling struct {
		LearningRate   *float32 `yaml:"learning_rate"`
		InitialWeight  *float32 `yaml:"initial_weight"`
		MinWeight      *float32 `yaml:"min_weight"`
		MaxWeight      *float32 `yaml:"max_weight"`
		SaturationMean *float32 `yaml:"saturation_mean"`
		CollapseStddev *float32 `yaml:"collapse_stddev"`
		CollapseDrift  *float32 `yaml:"collapse_drift"`
		ResetPull      *float32 `yaml:"reset_pull"`
		ResetSpread    *float32 `yaml:"reset_spread"`
		VolatileDelta  *float32 `yaml:"volatile_delta"`
	} `yaml:"coupling"`

	Nexus struct {
		ActivationThreshold *float32 `yaml:"activation_threshold"`
		AdaptiveRetries     *int     `yaml:"adaptive_retries"`
	} `yaml:"nexus"`

	Pattern struct {
		Alpha       *float32 `yaml:"alpha"`
		FuzzyLookup *bool    `yaml:"fuzzy_lookup"`
	} `yaml:"pattern"`

	Emission struct {
		DirectThreshold    *float32 `yaml:"direct_threshold"`
		FusionThreshold    *float32 `yaml:"fusion_threshold"`
		QualityGate        *float32 `yaml:"quality_gate"`
		TopK               *int     `yaml:"top_k"`
		MinimalConfidence  *float32 `yaml:"minimal_confidence"`
		LLMConfidence      *float32 `yaml:"llm_confidence"`
		FallbackConfidence *float32 `yaml:"fallback_confidence"`
		OrganicOnly        *bool    `yaml:"organic_only"`
		GenerateTimeout    string   `yaml:"generate_timeout"`
		GenerateWords      *int     `yaml:"generate_words"`
		MinimalFragment    *string  `yaml:"minimal_fragment"`
		FallbackFragment   *string  `yaml:"fallback_fragment"`
	} `yaml:"emission"`

	Learning struct {
		TrajectoryWindow    *int     `yaml:"trajectory_window"`
		ImproveBonus        *float32 `yaml:"improve_bonus"`
		DeclinePenalty      *float32 `yaml:"decline_penalty"`
		StabilityBonus      *float32 `yaml:"stability_bonus"`
		StrengthenThreshold *float32 `yaml:"strengthen_threshold"`
	} `yaml:"learning"`
}

// #endregion file-mirror

// #region load

// Load reads a YAML config file. A missing file returns the defaults.
func Load(path string) (Settings, pipeline.Config, error) {
	settings := DefaultSettings()
	config := pipeline.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, config, nil
		}
		return settings, config, fmt.Errorf("read config %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return settings, config, fmt.Errorf("parse config %s: %w", path, err)
	}

	if f.DBPath != "" {
		settings.DBPath = f.DBPath
	}
	if f.GenAddr != "" {
		settings.GenAddr = f.GenAddr
	}

	if f.Pool.QueryTimeout != "" {
		d, err := time.ParseDuration(f.Pool.QueryTimeout)
		if err != nil {
			return settings, config, fmt.Errorf("pool.query_timeout: %w", err)
		}
		config.Pool.QueryTimeout = d
	}

	setF32(&config.Felt.SatisfactionThreshold, f.Felt.SatisfactionThreshold)
	setF32(&config.Felt.MinEnergyDescent, f.Felt.MinEnergyDescent)
	setF32(&config.Felt.DescentRate, f.Felt.DescentRate)
	setInt(&config.Felt.MaxCycles, f.Felt.MaxCycles)

	setStr(&config.Safety.DistressOrgan, f.Safety.DistressOrgan)
	setStr(&config.Safety.StateOrgan, f.Safety.StateOrgan)
	setStr(&config.Safety.UrgencyOrgan, f.Safety.UrgencyOrgan)
	setF32(&config.Safety.DistressWeight, f.Safety.DistressWeight)
	setF32(&config.Safety.UrgencyWeight, f.Safety.UrgencyWeight)
	setF32(&config.Safety.RiskThreshold, f.Safety.RiskThreshold)

	setF32(&config.Coupling.LearningRate, f.Coupling.LearningRate)
	setF32(&config.Coupling.InitialWeight, f.Coupling.InitialWeight)
	setF32(&config.Coupling.MinWeight, f.Coupling.MinWeight)
	setF32(&config.Coupling.MaxWeight, f.Coupling.MaxWeight)
	setF32(&config.Coupling.SaturationMean, f.Coupling.SaturationMean)
	setF32(&config.Coupling.CollapseStddev, f.Coupling.CollapseStddev)
	setF32(&config.Coupling.CollapseDrift, f.Coupling.CollapseDrift)
	setF32(&config.Coupling.ResetPull, f.Coupling.ResetPull)
	setF32(&config.Coupling.ResetSpread, f.Coupling.ResetSpread)
	setF32(&config.Coupling.VolatileDelta, f.Coupling.VolatileDelta)

	setF32(&config.Nexus.ActivationThreshold, f.Nexus.ActivationThreshold)
	setInt(&config.Nexus.AdaptiveRetries, f.Nexus.AdaptiveRetries)

	setF32(&config.Pattern.Alpha, f.Pattern.Alpha)
	setBool(&config.Pattern.FuzzyLookup, f.Pattern.FuzzyLookup)

	setF32(&config.Emission.DirectThreshold, f.Emission.DirectThreshold)
	setF32(&config.Emission.FusionThreshold, f.Emission.FusionThreshold)
	setF32(&config.Emission.QualityGate, f.Emission.QualityGate)
	setInt(&config.Emission.TopK, f.Emission.TopK)
	setF32(&config.Emission.MinimalConfidence, f.Emission.MinimalConfidence)
	setF32(&config.Emission.LLMConfidence, f.Emission.LLMConfidence)
	setF32(&config.Emission.FallbackConfidence, f.Emission.FallbackConfidence)
	setBool(&config.Emission.OrganicOnly, f.Emission.OrganicOnly)
	setInt(&config.Emission.GenerateWords, f.Emission.GenerateWords)
	setStr(&config.Emission.MinimalFragment, f.Emission.MinimalFragment)
	setStr(&config.Emission.FallbackFragment, f.Emission.FallbackFragment)
	if f.Emission.GenerateTimeout != "" {
		d, err := time.ParseDuration(f.Emission.GenerateTimeout)
		if err != nil {
			return settings, config, fmt.Errorf("emission.generate_timeout: %w", err)
		}
		config.Emission.GenerateTimeout = d
	}

	setInt(&config.Learning.TrajectoryWindow, f.Learning.TrajectoryWindow)
	setF32(&config.Learning.ImproveBonus, f.Learning.ImproveBonus)
	setF32(&config.Learning.DeclinePenalty, f.Learning.DeclinePenalty)
	setF32(&config.Learning.StabilityBonus, f.Learning.StabilityBonus)
	setF32(&config.Learning.StrengthenThreshold, f.Learning.StrengthenThreshold)

	return settings, config, nil
}

// #endregion load

// #region helpers

// nil means "not set in the file"; anything else, zero and false
// included, overrides the default.
func setF32(dst *float32, v *float32) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// #endregion helpers
