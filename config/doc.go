// Package config loads the YAML configuration of the instrument.
//
// A configuration file only needs the keys it changes; everything else
// keeps the value from [CreateDefaultConfig]. Generate a complete file with
// [WriteDefaultConfig] or `microscpi config init`.
package config
