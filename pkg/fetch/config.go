package fetch

import (
	"bytes"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultFileID identifies the engine's third party bundle
	DefaultFileID = "1_9gK0mHCFIuXkZlF7yv9HmXcr4KabK0c"
	// DefaultArchive is the temporary archive name used when neither the config nor the URL
	// provide one
	DefaultArchive = "Dependencies.zip"
	// DefaultDepName is the name of the built-in dependency used when there is no config file
	DefaultDepName = "dependencies"
)

// DepSpec describes a single archive that has to be downloaded and extracted
type DepSpec struct {
	Condition  string   `yaml:"if,omitempty"`
	Rejections string   `yaml:"ifNot,omitempty"`
	FileID     string   `yaml:"fileId,omitempty"`
	URL        string   `yaml:"url,omitempty"`
	Dest       string   `yaml:"dest"`
	Archive    string   `yaml:"archive,omitempty"`
	Sha256     string   `yaml:"sha256,omitempty"`
	Strip      int      `yaml:"strip,omitempty"`
	Clean      bool     `yaml:"clean,omitempty"`
	MarkExec   []string `yaml:"markExec,omitempty"`
}

// DepConfig is the content of a DEPS.yml file
type DepConfig struct {
	Vars map[string]string  `yaml:"vars,omitempty"`
	Deps map[string]DepSpec `yaml:"deps"`
}

// DefaultConfig returns the configuration used when no DEPS.yml exists. The archive is
// extracted directly into the fetcher's root.
func DefaultConfig(fileID string) DepConfig {
	if fileID == "" {
		fileID = DefaultFileID
	}

	return DepConfig{
		Vars: map[string]string{},
		Deps: map[string]DepSpec{
			DefaultDepName: {
				FileID:  fileID,
				Dest:    ".",
				Archive: DefaultArchive,
			},
		},
	}
}

// LoadConfig parses the DEPS.yml file at cfgPath and returns it together with its raw content
func LoadConfig(cfgPath string) (DepConfig, []byte, error) {
	var cfg DepConfig
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		return cfg, nil, eris.Wrapf(err, "Could not open file %s.", cfgPath)
	}

	err = yaml.Unmarshal(cfgData, &cfg)
	if err != nil {
		return cfg, nil, eris.Wrapf(err, "Failed to parse %s.", cfgPath)
	}

	if cfg.Vars == nil {
		cfg.Vars = map[string]string{}
	}

	for name, spec := range cfg.Deps {
		if spec.URL == "" && spec.FileID == "" {
			return cfg, nil, eris.Errorf("Dependency %s needs either url or fileId", name)
		}
	}

	return cfg, cfgData, nil
}

var varMatcher = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

func expandVars(value string, vars map[string]string) string {
	return varMatcher.ReplaceAllStringFunc(value, func(varName string) string {
		return vars[varName[1:len(varName)-1]]
	})
}

// resolve replaces {VAR} placeholders and reports whether the dependency's if/ifNot conditions
// allow it on this host
func (s *DepSpec) resolve(vars map[string]string) bool {
	s.URL = expandVars(s.URL, vars)
	s.FileID = expandVars(s.FileID, vars)

	for _, condition := range strings.Split(s.Condition, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		value, ok := vars[condition]
		if !ok || value == "" {
			return false
		}
	}

	for _, condition := range strings.Split(s.Rejections, ",") {
		condition = strings.TrimSpace(condition)
		if condition == "" {
			continue
		}

		value, ok := vars[condition]
		if ok && value != "" {
			return false
		}
	}

	return true
}

func (s DepSpec) source() string {
	if s.URL != "" {
		return s.URL
	}

	return "id:" + s.FileID
}

func (s DepSpec) stampToken() string {
	return s.source() + "#" + s.Sha256
}

func (s DepSpec) archiveName() string {
	if s.Archive != "" {
		return s.Archive
	}

	if s.URL != "" {
		base := path.Base(strings.SplitN(s.URL, "?", 2)[0])
		if base != "." && base != "/" {
			return base
		}
	}

	return DefaultArchive
}

// Stamps remembers which version of each dependency was extracted last
type Stamps map[string]string

// StampPath returns the stamps file belonging to a config file (DEPS.yml -> DEPS.stamps)
func StampPath(cfgPath string) string {
	return strings.TrimSuffix(cfgPath, filepath.Ext(cfgPath)) + ".stamps"
}

// LoadStamps reads a stamps file. A missing file yields an empty set.
func LoadStamps(stampPath string) (Stamps, error) {
	stamps := Stamps{}
	stampData, err := os.ReadFile(stampPath)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return stamps, nil
		}
		return nil, eris.Wrapf(err, "Failed to read stamps file %s.", stampPath)
	}

	err = json.Unmarshal(stampData, &stamps)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to parse JSON file %s.", stampPath)
	}

	return stamps, nil
}

// Save writes the stamps to stampPath
func (s Stamps) Save(stampPath string) error {
	stampData, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "Failed to encode stamps")
	}

	err = os.WriteFile(stampPath, stampData, os.FileMode(0660))
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", stampPath)
	}

	return nil
}

// UpdateChecksums sets the sha256 field of the named dependencies in a DEPS.yml document.
// Comments and key order are kept.
func UpdateChecksums(cfgData []byte, changes map[string]string) ([]byte, error) {
	var doc yaml.Node
	err := yaml.Unmarshal(cfgData, &doc)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to parse config")
	}

	if len(doc.Content) < 1 {
		return nil, eris.New("Config is empty")
	}

	deps := mappingValue(doc.Content[0], "deps")
	if deps == nil {
		return nil, eris.New("Config has no deps section")
	}

	for name, checksum := range changes {
		dep := mappingValue(deps, name)
		if dep == nil {
			return nil, eris.Errorf("Failed to find the section for %s!", name)
		}

		node := mappingValue(dep, "sha256")
		if node != nil {
			node.Value = checksum
			continue
		}

		dep.Content = append(dep.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "sha256"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: checksum},
		)
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	err = encoder.Encode(&doc)
	if err != nil {
		return nil, eris.Wrap(err, "Failed to encode config")
	}
	err = encoder.Close()
	if err != nil {
		return nil, eris.Wrap(err, "Failed to encode config")
	}

	return buf.Bytes(), nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for idx := 0; idx+1 < len(node.Content); idx += 2 {
		if node.Content[idx].Value == key {
			return node.Content[idx+1]
		}
	}

	return nil
}
