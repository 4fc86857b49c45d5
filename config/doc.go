/*
Package config loads the daemon configuration from defaults, a YAML file,
and environment variable overrides, in that precedence order. Each section
of Config is the owning package's own Config type, so a loaded file can be
handed straight to the constructors. Watcher adds opt-in polling reload of
the config file.
*/
package config
