// Copyright (c) 2025 cocowh. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logger

const (
	OutputConsole = "console"
	OutputFile    = "file"
	OutputBoth    = "both"
)

type Config struct {
	LogDir   string
	BaseName string
	Format   string
	Level    Level
	Output   string

	Compress   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	EnableErrorFile bool

	Async            bool
	AsyncChannelSize int
}

// DefaultConfig logs text at info level to the console only.
func DefaultConfig() *Config {
	return &Config{
		LogDir:     "./logs",
		BaseName:   "portshift",
		Format:     "text",
		Level:      InfoLevel,
		Output:     OutputConsole,
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

func (c *Config) writesConsole() bool {
	return c.Output == "" || c.Output == OutputConsole || c.Output == OutputBoth
}

func (c *Config) writesFile() bool {
	return c.Output == OutputFile || c.Output == OutputBoth
}
