// Package config defines configuration structures for the tablepull CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (TABLEPULL_ prefix)
//   - YAML configuration file
//
// # Structure
//
//	type Config struct {
//	    Bucket        string
//	    Root          string
//	    Table         string
//	    Output        string
//	    MaxStreams    int
//	    Ordered       bool
//	    QueueCapacity string   // "auto", "unbounded", or a positive integer
//	    Columns       []string
//	    Progress      bool
//	}
package config
