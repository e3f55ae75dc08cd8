// Package config handles loading and validating the EasyWallbox bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (WALLBOX_*, MQTT_*, EASYWALLBOX_*)
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The wallbox PIN and broker password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.DefaultPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Wallbox.Address)
package config
