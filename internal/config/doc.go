// Package config loads mandelgen settings from a YAML or JSON file and from
// MANDEL_* environment variables.
//
// Precedence is environment > file > defaults; command-line flags are
// applied on top by the caller.
//
//	settings, err := config.Load("mandelgen.yaml")
//	if err != nil {
//	    return err
//	}
//	job := settings.Job
//
// Example file:
//
//	job:
//	  region: {x_min: -2.5, x_max: 1, y_min: -1.5, y_max: 1.5}
//	  resolution: {width: 3840, height: 2160}
//	  iterations: 256
//	  granularity: 4
//	  parallelism: 8
//	  remainder: gap
//	engine:
//	  kind: inprocess
//	sweep:
//	  granularities: [1, 4, 16]
//	chaos:
//	  enabled: false
package config
