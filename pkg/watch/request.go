package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/joho/godotenv"
	"mvdan.cc/sh/v3/syntax"
)

// Request is what to watch and what to run. It is a value: Start copies it.
type Request struct {
	// Dir is the watched directory and the command's working directory.
	Dir string

	// Command is run through the shell on every trigger.
	Command string

	// SkipPatterns is a ';'-separated glob list of paths to ignore.
	SkipPatterns string

	// RespectGitignore also ignores paths matched by .gitignore files.
	RespectGitignore bool

	// EnvFile is an optional dotenv file, relative to Dir unless absolute,
	// whose variables are exported to the command.
	EnvFile string
}

// Validate checks the request without side effects.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Command) == "" {
		return ErrEmptyCommand
	}

	info, err := os.Stat(r.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDirectory, r.Dir)
	}

	if runtime.GOOS != "windows" {
		if _, err := syntax.NewParser().Parse(strings.NewReader(r.Command), ""); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	}

	if r.EnvFile != "" {
		if _, err := godotenv.Read(r.envFilePath()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEnvFile, err)
		}
	}

	return nil
}

// Environ returns the env file variables as sorted KEY=VALUE pairs.
func (r Request) Environ() ([]string, error) {
	if r.EnvFile == "" {
		return nil, nil
	}

	vars, err := godotenv.Read(r.envFilePath())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvFile, err)
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env, nil
}

func (r Request) envFilePath() string {
	if filepath.IsAbs(r.EnvFile) {
		return r.EnvFile
	}
	return filepath.Join(r.Dir, r.EnvFile)
}
