// Package config handles loading and validating service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields per broker backend
//   - Default value handling
//
// Security Considerations:
//   - Broker admin passwords should be set via environment variables
//     (MQTTACCESS_MQTT_PASSWORD, MQTTACCESS_EMQX_PASSWORD)
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Broker.Backend)
package config
