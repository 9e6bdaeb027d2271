package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/edvin/keyfleet/internal/model"
)

var validate = validator.New()

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

func init() {
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return nameRegex.MatchString(fl.Field().String())
	})
}

type serversFile struct {
	Servers []model.PanelServer `yaml:"servers"`
}

// LoadServers reads and validates the fleet definition. A malformed file is
// fatal at startup: the process must not run with a partial server list.
func LoadServers(path string) ([]model.PanelServer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read servers file %s: %w", path, err)
	}
	return ParseServers(data)
}

func ParseServers(data []byte) ([]model.PanelServer, error) {
	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse servers file: %w", err)
	}
	if len(f.Servers) == 0 {
		return nil, fmt.Errorf("servers file defines no servers")
	}

	seen := make(map[string]bool, len(f.Servers))
	locals := 0
	for i := range f.Servers {
		s := &f.Servers[i]
		if err := validate.Struct(s); err != nil {
			return nil, fmt.Errorf("server %q: %w", s.Name, err)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
		if s.IsLocal {
			locals++
		}
	}
	if locals > 1 {
		return nil, fmt.Errorf("at most one server may be marked local, got %d", locals)
	}

	return f.Servers, nil
}
