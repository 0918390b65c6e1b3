package stack

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// composeFile is the subset of docker-compose.yml we care about: the
// declared services, used to fail fast on misconfigured service names
// instead of at the first docker invocation.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image string   `yaml:"image"`
	Ports []string `yaml:"ports"`
}

func parseComposeFile(data []byte) (*composeFile, error) {
	var cf composeFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse docker-compose.yml: %w", err)
	}
	if len(cf.Services) == 0 {
		return nil, errors.New("docker-compose.yml declares no services")
	}
	return &cf, nil
}

func (c *Controller) validateComposeFile() error {
	data, err := os.ReadFile(c.composeFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w at %s (set DOCKER_COMPOSE_PATH to the directory containing it)",
				ErrComposeFileMissing, c.composeFile)
		}
		return err
	}
	cf, err := parseComposeFile(data)
	if err != nil {
		return err
	}
	if _, ok := cf.Services[c.webService]; !ok {
		return fmt.Errorf("compose file has no service %q (web)", c.webService)
	}
	if _, ok := cf.Services[c.dbService]; !ok {
		return fmt.Errorf("compose file has no service %q (db)", c.dbService)
	}
	return nil
}
