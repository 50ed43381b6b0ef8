// Package associations collects the YAML schema associations contributed by
// installed extensions.
package associations

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Notification is the method used to push associations to the language server.
const Notification = "json/schemaAssociations"

// Associations maps a file pattern to the schema URLs validating it.
type Associations map[string][]string

// Add appends url to the schemas of pattern.
func (a Associations) Add(pattern, url string) {
	a[pattern] = append(a[pattern], url)
}

// Manifest is the subset of an extension's package.json used by the client.
type Manifest struct {
	Dir         string `json:"-"`
	Name        string `json:"name"`
	Publisher   string `json:"publisher"`
	DisplayName string `json:"displayName"`
	Contributes struct {
		YAMLValidation []Validation `json:"yamlValidation"`
	} `json:"contributes"`
}

// ID returns the "publisher.name" identifier of the extension.
func (m Manifest) ID() string {
	return m.Publisher + "." + m.Name
}

// Validation is one contributes.yamlValidation entry.
type Validation struct {
	FileMatch FileMatch `json:"fileMatch"`
	URL       string    `json:"url"`
}

// FileMatch accepts either a single pattern or a list of patterns.
type FileMatch []string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FileMatch) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*f = nil
		} else {
			*f = FileMatch{single}
		}
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("fileMatch must be a string or string array: %w", err)
	}
	*f = list
	return nil
}

// LoadManifests reads <dir>/*/package.json for every dir.
// Manifests that cannot be read or parsed are logged and skipped.
func LoadManifests(dirs []string) ([]Manifest, error) {
	logger := log.With().Str("component", "associations").Logger()

	var manifests []Manifest
	for _, dir := range dirs {
		paths, err := filepath.Glob(filepath.Join(dir, "*", "package.json"))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, path := range paths {
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable extension manifest")
				continue
			}

			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid extension manifest")
				continue
			}
			m.Dir = filepath.Dir(path)
			manifests = append(manifests, m)
		}
	}

	return manifests, nil
}

// Discover loads the manifests under extensionDirs and builds their associations.
func Discover(extensionDirs []string) (Associations, error) {
	manifests, err := LoadManifests(extensionDirs)
	if err != nil {
		return nil, err
	}
	return FromManifests(manifests), nil
}

// FromManifests builds associations from already loaded manifests.
func FromManifests(manifests []Manifest) Associations {
	result := make(Associations)
	for _, m := range manifests {
		for _, v := range m.Contributes.YAMLValidation {
			if v.URL == "" {
				continue
			}
			schemaURL := resolveURL(m.Dir, v.URL)
			for _, pattern := range v.FileMatch {
				if pattern == "" {
					continue
				}
				result.Add(NormalizePattern(pattern), schemaURL)
			}
		}
	}
	return result
}

var schemePrefix = regexp.MustCompile(`\w+://`)

// NormalizePattern rewrites a contributed fileMatch into the form the
// language server matches against.
func NormalizePattern(pattern string) string {
	if strings.HasPrefix(pattern, "%") {
		pattern = strings.Replace(pattern, "%APP_SETTINGS_HOME%", "/User", 1)
		pattern = strings.Replace(pattern, "%APP_WORKSPACES_HOME%", "/Workspaces", 1)
		return pattern
	}
	if !strings.HasPrefix(pattern, "/") && !schemePrefix.MatchString(pattern) {
		return "/" + pattern
	}
	return pattern
}

// resolveURL turns an extension-relative "./" url into a file:// URI.
func resolveURL(extensionDir, raw string) string {
	if !strings.HasPrefix(raw, "./") {
		return raw
	}
	abs, err := filepath.Abs(filepath.Join(extensionDir, raw))
	if err != nil {
		abs = filepath.Join(extensionDir, raw)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
