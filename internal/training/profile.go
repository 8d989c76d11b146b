package training

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile describes the external trainer installation: where the
// binary lives, where datasets are read from, and the defaults applied
// when a run's hyperparameters leave them unspecified.
type Profile struct {
	TrainerBin       string        `yaml:"trainer_bin"`
	DataDir          string        `yaml:"data_dir"`
	DefaultDataset   string        `yaml:"default_dataset"`
	LabelCol         int           `yaml:"label_col"`
	HasHeader        bool          `yaml:"has_header"`
	OutputPrefix     string        `yaml:"output_prefix"`
	DefaultTrainTime int           `yaml:"default_train_time"`
	TrainGrace       time.Duration `yaml:"train_grace"`
}

// DefaultProfile mirrors a stock sentiment-analysis setup.
func DefaultProfile() Profile {
	return Profile{
		TrainerBin:       "mlnet",
		DataDir:          "data",
		DefaultDataset:   "sentiment.tsv",
		LabelCol:         1,
		HasHeader:        false,
		OutputPrefix:     "SentimentModel",
		DefaultTrainTime: 10,
		TrainGrace:       30 * time.Second,
	}
}

// LoadProfile reads a YAML trainer profile. Fields left empty in the
// file keep their defaults.
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read trainer profile: %w", err)
	}
	profile := DefaultProfile()
	if err := yaml.Unmarshal(raw, &profile); err != nil {
		return Profile{}, fmt.Errorf("decode trainer profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (p Profile) Validate() error {
	if strings.TrimSpace(p.TrainerBin) == "" {
		return fmt.Errorf("trainer profile: trainer_bin is required")
	}
	if strings.TrimSpace(p.OutputPrefix) == "" {
		return fmt.Errorf("trainer profile: output_prefix is required")
	}
	if p.LabelCol < 0 {
		return fmt.Errorf("trainer profile: label_col must be >= 0")
	}
	if p.DefaultTrainTime <= 0 {
		return fmt.Errorf("trainer profile: default_train_time must be positive")
	}
	if p.TrainGrace < 0 {
		return fmt.Errorf("trainer profile: train_grace must not be negative")
	}
	return nil
}
