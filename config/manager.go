/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/opencampus/dataplane/logging"
	"go.uber.org/config"
)

var logger = logging.GetLogger("config")

// Load builds the configuration from the default file locations,
// falling back to Default() values for anything not specified.
func Load() (*Config, error) {
	var sources []config.YAMLOption

	files := DefaultFileLocations()
	for _, f := range files {
		if fileExists(f) {
			sources = append(sources, config.File(f))
			logger.Infof("configuration file found: %s", f)
		}
	}

	cnf := Default()
	if len(sources) == 0 {
		logger.Info("no configuration file found, using defaults")
		return cnf, nil
	}

	sources = append(sources, config.Permissive())
	yaml, err := config.NewYAML(sources...)
	if err != nil {
		return nil, err
	}
	if err := yaml.Get("dataplane").Populate(cnf); err != nil {
		return nil, err
	}
	return cnf, nil
}

// LoadFile builds the configuration from one explicit file, falling
// back to Default() values for anything not specified.
func LoadFile(path string) (*Config, error) {
	if !fileExists(path) {
		return nil, fmt.Errorf("configuration file not found: %s", path)
	}
	yaml, err := config.NewYAML(config.File(path), config.Permissive())
	if err != nil {
		return nil, err
	}
	return LoadYAML(yaml)
}

// LoadYAML populates the configuration from an already parsed
// provider. Used by tests and embedding applications.
func LoadYAML(yaml *config.YAML) (*Config, error) {
	cnf := Default()
	if err := yaml.Get("dataplane").Populate(cnf); err != nil {
		return nil, err
	}
	return cnf, nil
}

// DefaultFileLocations lists the paths probed for a configuration file,
// in order.
func DefaultFileLocations() []string {
	var files []string
	if runtime.GOOS != "windows" {
		files = append(files,
			"/etc/dataplane/config.yaml",
			"/etc/dataplane/config.yml",
		)
	}
	if dir, err := os.Getwd(); err == nil {
		files = append(files, filepath.Join(dir, "config.yaml"))
	} else {
		files = append(files, "config.yaml")
	}
	return files
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
