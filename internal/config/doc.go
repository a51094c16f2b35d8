// Package config loads the daemon configuration from JSON or YAML files and
// fills in defaults for storage, queue, judge and logging settings.
package config
