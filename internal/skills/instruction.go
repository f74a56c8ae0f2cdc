package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	manifestFileName = "SKILL.md"
	maxNameLen        = 64
	maxDescLen        = 1024
)

var nameRe = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// InstructionSkill is a filesystem package: a manifest plus scripts/ and
// references/ subtrees the bridge skill can serve on demand.
type InstructionSkill struct {
	Name         string
	Description  string
	License      string
	Compatibility string
	Metadata     map[string]string
	AllowedTools []string
	Dir          string
	Body         string // full manifest file contents, frontmatter included
}

type manifestFrontmatter struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
	AllowedTools  []string          `yaml:"allowed-tools"`
}

// LoadInstructionSkills scans each configured directory one level deep for
// subdirectories containing a SKILL.md manifest. Invalid packages are logged
// and skipped rather than aborting the scan (§4.6).
func LoadInstructionSkills(dirs []string) []InstructionSkill {
	var out []InstructionSkill
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("skill directory not readable, skipping")
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			skillDir := filepath.Join(dir, e.Name())
			manifestPath := filepath.Join(skillDir, manifestFileName)
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				continue // no manifest: not a skill package
			}
			sk, err := parseInstructionSkill(skillDir, e.Name(), data)
			if err != nil {
				log.Warn().Err(err).Str("dir", skillDir).Msg("invalid skill package, skipping")
				continue
			}
			out = append(out, sk)
		}
	}
	return out
}

func parseInstructionSkill(dir, dirName string, data []byte) (InstructionSkill, error) {
	fm, err := extractFrontmatter(string(data))
	if err != nil {
		return InstructionSkill{}, err
	}
	name := strings.TrimSpace(fm.Name)
	if name != dirName {
		return InstructionSkill{}, fmt.Errorf("directory name %q does not match manifest name %q", dirName, name)
	}
	if !nameRe.MatchString(name) {
		return InstructionSkill{}, fmt.Errorf("name %q does not match [a-z0-9-]{1,64}", name)
	}
	desc := strings.TrimSpace(fm.Description)
	if len(desc) < 1 || len(desc) > maxDescLen {
		return InstructionSkill{}, fmt.Errorf("description must be 1-%d characters", maxDescLen)
	}
	return InstructionSkill{
		Name:          name,
		Description:   desc,
		License:       fm.License,
		Compatibility: fm.Compatibility,
		Metadata:      fm.Metadata,
		AllowedTools:  fm.AllowedTools,
		Dir:           dir,
		Body:          string(data),
	}, nil
}

func extractFrontmatter(contents string) (manifestFrontmatter, error) {
	const delim = "---"
	lines := strings.Split(contents, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delim {
		return manifestFrontmatter{}, fmt.Errorf("missing YAML frontmatter delimited by ---")
	}
	var body []string
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delim {
			break
		}
		body = append(body, lines[i])
	}
	if len(body) == 0 {
		return manifestFrontmatter{}, fmt.Errorf("missing YAML frontmatter delimited by ---")
	}
	var fm manifestFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(body, "\n")), &fm); err != nil {
		return manifestFrontmatter{}, fmt.Errorf("invalid YAML: %w", err)
	}
	return fm, nil
}

// resolveWithin resolves rel under root, rejecting any component containing
// ".." or an absolute path, per the bridge skill's path-traversal contract.
func resolveWithin(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be relative: %q", rel)
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.Contains(part, "..") {
			return "", fmt.Errorf("path must not contain ..: %q", rel)
		}
	}
	full := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root) + string(filepath.Separator)
	if !strings.HasPrefix(full+string(filepath.Separator), cleanRoot) && full != filepath.Clean(root) {
		return "", fmt.Errorf("path escapes allowed subtree: %q", rel)
	}
	return full, nil
}
