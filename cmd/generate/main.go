package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/pyxis-lab/pyxis-executor/internal/engine"
	yaml "gopkg.in/yaml.v2"
)

const (
	schemaFileName = "executor-engine-v1-config.json"
	sampleFileName = "executor-engine-v1-config.yaml"
)

func main() {
	config := engine.EmptyConfig()

	schemaPath := filepath.Join("./config", schemaFileName)
	samplePath := filepath.Join("./config", sampleFileName)

	if err := validatePaths(schemaPath, samplePath); err != nil {
		log.Fatalf("Invalid output paths: %v", err)
	}

	if err := validateSchemaName(schemaFileName); err != nil {
		log.Fatalf("Invalid schema name: %v", err)
	}

	if err := generateSchemaFile(config, schemaPath); err != nil {
		log.Fatalf("Failed to generate schema: %v", err)
	}

	log.Printf("Schema successfully generated at %s", schemaPath)

	if err := generateSampleConfig(config, samplePath, schemaFileName); err != nil {
		log.Fatalf("Failed to generate sample config: %v", err)
	}

	log.Printf("Sample config available at %s", samplePath)
}

// validatePaths rejects empty output locations before any file is touched.
func validatePaths(schemaPath string, samplePath string) error {
	if schemaPath == "" {
		return fmt.Errorf("schema path cannot be empty")
	}

	if samplePath == "" {
		return fmt.Errorf("sample config path cannot be empty")
	}

	return nil
}

// validateSchemaName requires a .json file name so the yaml-language-server
// reference in the sample config resolves.
func validateSchemaName(schemaName string) error {
	if schemaName == "" {
		return fmt.Errorf("schema name cannot be empty")
	}

	if !strings.HasSuffix(schemaName, ".json") {
		return fmt.Errorf("schema name %q must have .json extension", schemaName)
	}

	return nil
}

// getSchemaReference returns the editor hint line prepended to the sample
// config.
func getSchemaReference(schemaName string) string {
	return "# yaml-language-server: $schema=" + schemaName + "\n"
}

// generateSchemaFile writes the config JSON schema to schemaPath, creating
// parent directories as needed.
func generateSchemaFile(config engine.Config, schemaPath string) error {
	schemaJSON, err := config.GenerateSchemaJSON()
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(schemaPath), 0755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}

	if err := os.WriteFile(schemaPath, []byte(schemaJSON), 0644); err != nil {
		return fmt.Errorf("failed to write schema file: %w", err)
	}

	return nil
}

// generateSampleConfig writes a working example config to samplePath unless
// one already exists.
func generateSampleConfig(config engine.Config, samplePath string, schemaName string) error {
	if _, err := os.Stat(samplePath); err == nil {
		return nil
	}

	yamlBytes, err := yaml.Marshal(sampleConfig(config))
	if err != nil {
		return fmt.Errorf("failed to marshal sample config: %w", err)
	}

	yamlBytes = append([]byte(getSchemaReference(schemaName)), yamlBytes...)

	if err := os.MkdirAll(filepath.Dir(samplePath), 0755); err != nil {
		return fmt.Errorf("failed to create sample config directory: %w", err)
	}

	if err := os.WriteFile(samplePath, yamlBytes, 0644); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}

	return nil
}

// sampleConfig lays out an ordered YAML document seeded from the defaults,
// with the backtest fields filled in so the sample loads and validates as is.
// Durations are rendered as strings because that is what the config parser
// reads.
func sampleConfig(config engine.Config) yaml.MapSlice {
	return yaml.MapSlice{
		{Key: "mode", Value: string(engine.ModeBacktest)},
		{Key: "initial_capital", Value: 10000},
		{Key: "assets", Value: []string{"BTCUSDT"}},
		{Key: "cash_asset", Value: config.CashAsset},
		{Key: "data_path", Value: "data/*.parquet"},
		{Key: "cycle_interval", Value: config.CycleInterval.String()},
		{Key: "poll_interval", Value: config.PollInterval.String()},
		{Key: "cycle_timeout", Value: config.CycleTimeout.String()},
		{Key: "confirmation_timeout", Value: config.ConfirmationTimeout.String()},
		{Key: "retry_backoff", Value: config.RetryBackoff.String()},
		{Key: "max_attempts", Value: config.MaxAttempts},
		{Key: "slippage_tolerance", Value: config.SlippageTolerance},
		{Key: "drift_tolerance", Value: config.DriftTolerance},
		{Key: "outage_threshold", Value: config.OutageThreshold},
		{Key: "stale_tolerance", Value: config.StaleTolerance.String()},
	}
}
