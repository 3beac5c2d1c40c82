package utils

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ImportEnv wires v to the process environment and merges a .env file from
// the first of paths that has one. The working directory is searched when no
// path is given. A missing file is not an error.
func ImportEnv(v *viper.Viper, paths ...string) error {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	v.SetConfigName(".env")
	v.SetConfigType("env")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("utils: read config file: %w", err)
		}
	}
	return nil
}
