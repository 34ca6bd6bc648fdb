package cmd

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format, including defaults,
config file values, and environment overrides. Redirect the output to create
a configuration template:

  voxcut config dump > .voxcut.yaml

Environment variables use the VOXCUT_ prefix with underscores for nesting.
Example: llm.rpm -> VOXCUT_LLM_RPM`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(configMap(cfg))
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}

		fmt.Println("# voxcut configuration")
		fmt.Println("# Durations use Go syntax: 30s, 5m, 1h.")
		fmt.Println("# Environment overrides: VOXCUT_LLM_RPM, VOXCUT_DATABASE_DSN, etc.")
		fmt.Println()
		fmt.Print(string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// configMap converts the config struct to a map keyed by mapstructure tags,
// with durations rendered in their string form.
func configMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = configMap(field.Interface())
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}
