package rules

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	repoRulepacksDir = "rulepacks"
	repoConfigFile   = "config.json"
	rulePackFileName = "rulepack.json"
)

// Repository manages installation and discovery of rule packs.
type Repository struct {
	root string
}

// RulePackRef identifies a rule pack by id and version.
type RulePackRef struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
}

func (r RulePackRef) String() string {
	return r.RulePackId + "@" + r.Version
}

// ParseRef parses "id@version". The version may be omitted.
func ParseRef(s string) (RulePackRef, error) {
	id, version, _ := strings.Cut(s, "@")
	if err := validatePathComponent(id); err != nil {
		return RulePackRef{}, fmt.Errorf("invalid rule pack id: %w", err)
	}
	return RulePackRef{RulePackId: id, Version: version}, nil
}

// InstalledRulePack represents a rule pack stored in the repository.
type InstalledRulePack struct {
	RulePack RulePack
	Dir      string
	Path     string
}

// RulePackSource records where an evaluated pack came from.
type RulePackSource struct {
	Builtin        bool   `json:"builtin,omitempty"`
	FromRepository bool   `json:"fromRepository,omitempty"`
	RulePackId     string `json:"rulePackId"`
	Version        string `json:"version"`
	Path           string `json:"path,omitempty"`
}

type repoConfig struct {
	DefaultByProfile map[string]RulePackRef `json:"defaultByProfile"`
}

// DefaultRepository returns the repository rooted in ~/.edfgate/rules.
func DefaultRepository() (*Repository, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return OpenRepository(filepath.Join(home, ".edfgate", "rules"))
}

// OpenRepository creates a Repository rooted at path and ensures the
// rulepacks directory exists.
func OpenRepository(path string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Join(path, repoRulepacksDir), 0o755); err != nil {
		return nil, fmt.Errorf("create rulepacks dir: %w", err)
	}
	return &Repository{root: path}, nil
}

func (r *Repository) Root() string {
	if r == nil {
		return ""
	}
	return r.root
}

// Install copies a rule pack into the repository. path is either a
// rulepack JSON file or a zip archive holding rulepack.json.
func (r *Repository) Install(path string) (InstalledRulePack, error) {
	var installed InstalledRulePack
	if r == nil {
		return installed, errors.New("nil repository")
	}
	var raw []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		raw, err = readArchive(path)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return installed, err
	}

	var rp RulePack
	if err := json.Unmarshal(raw, &rp); err != nil {
		return installed, fmt.Errorf("parse rule pack: %w", err)
	}
	if rp.RulePackId == "" || rp.Version == "" {
		return installed, errors.New("rulepack missing id or version")
	}
	if err := validatePathComponent(rp.RulePackId); err != nil {
		return installed, fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(rp.Version); err != nil {
		return installed, fmt.Errorf("invalid rule pack version: %w", err)
	}
	for i, rule := range rp.Rules {
		if rule.RuleId == "" {
			return installed, fmt.Errorf("rule %d has no ruleId", i)
		}
	}

	dir := r.packageDir(rp.RulePackId, rp.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return installed, fmt.Errorf("create package dir: %w", err)
	}
	dst := filepath.Join(dir, rulePackFileName)
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return installed, fmt.Errorf("write rulepack.json: %w", err)
	}
	return InstalledRulePack{RulePack: rp, Dir: dir, Path: dst}, nil
}

func readArchive(path string) ([]byte, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if filepath.Base(f.Name) != rulePackFileName {
			continue
		}
		b, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", rulePackFileName, err)
		}
		return b, nil
	}
	return nil, errors.New("rulepack.json not found in archive")
}

// ListInstalled returns the installed packs ordered by id then version.
func (r *Repository) ListInstalled() ([]InstalledRulePack, error) {
	if r == nil {
		return nil, errors.New("nil repository")
	}
	base := filepath.Join(r.root, repoRulepacksDir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var result []InstalledRulePack
	for _, idEntry := range entries {
		if !idEntry.IsDir() {
			continue
		}
		versionDir := filepath.Join(base, idEntry.Name())
		versEntries, err := os.ReadDir(versionDir)
		if err != nil {
			return nil, err
		}
		for _, vEntry := range versEntries {
			if !vEntry.IsDir() {
				continue
			}
			rpPath := filepath.Join(versionDir, vEntry.Name(), rulePackFileName)
			rp, err := LoadRulePack(rpPath)
			if err != nil {
				continue
			}
			result = append(result, InstalledRulePack{
				RulePack: rp,
				Dir:      filepath.Dir(rpPath),
				Path:     rpPath,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].RulePack.RulePackId == result[j].RulePack.RulePackId {
			return compareVersions(result[i].RulePack.Version, result[j].RulePack.Version) < 0
		}
		return result[i].RulePack.RulePackId < result[j].RulePack.RulePackId
	})
	return result, nil
}

// Remove deletes a pack and any profile default pointing at it.
func (r *Repository) Remove(id, version string) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validateRef(id, version); err != nil {
		return err
	}
	dir := r.packageDir(id, version)
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	cfg, err := r.loadConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	changed := false
	for profile, ref := range cfg.DefaultByProfile {
		if ref.RulePackId == id && ref.Version == version {
			delete(cfg.DefaultByProfile, profile)
			changed = true
		}
	}
	if changed {
		return r.saveConfig(cfg)
	}
	return nil
}

// Load returns the rule pack identified by id and version. An empty version
// selects the highest installed one.
func (r *Repository) Load(id, version string) (RulePack, RulePackSource, error) {
	var rp RulePack
	var source RulePackSource
	if r == nil {
		return rp, source, errors.New("nil repository")
	}
	if version == "" {
		latest, err := r.latestVersionFor(id)
		if err != nil {
			return rp, source, err
		}
		if latest == "" {
			return rp, source, fmt.Errorf("rule pack %s is not installed", id)
		}
		version = latest
	}
	if err := validateRef(id, version); err != nil {
		return rp, source, err
	}
	rpPath := filepath.Join(r.packageDir(id, version), rulePackFileName)
	rp, err := LoadRulePack(rpPath)
	if err != nil {
		return rp, source, err
	}
	if rp.RulePackId != id || rp.Version != version {
		return rp, source, errors.New("rule pack metadata does not match requested id/version")
	}
	source = RulePackSource{
		FromRepository: true,
		RulePackId:     id,
		Version:        version,
		Path:           rpPath,
	}
	return rp, source, nil
}

// Resolve picks the pack to evaluate. spec is a rule pack file, an
// installed "id@version" reference, or empty; an empty spec uses the
// repository default for profile and falls back to the built-in pack.
func Resolve(repo *Repository, spec, profile string) (RulePack, RulePackSource, error) {
	if spec != "" {
		if _, err := os.Stat(spec); err == nil {
			rp, err := LoadRulePack(spec)
			return rp, RulePackSource{RulePackId: rp.RulePackId, Version: rp.Version, Path: spec}, err
		}
		if repo == nil {
			return RulePack{}, RulePackSource{}, fmt.Errorf("rule pack %s not found", spec)
		}
		ref, err := ParseRef(spec)
		if err != nil {
			return RulePack{}, RulePackSource{}, err
		}
		return repo.Load(ref.RulePackId, ref.Version)
	}
	if repo != nil {
		ref, ok, err := repo.DefaultForProfile(profile)
		if err != nil {
			return RulePack{}, RulePackSource{}, err
		}
		if ok {
			return repo.Load(ref.RulePackId, ref.Version)
		}
	}
	rp := DefaultRulePack()
	return rp, RulePackSource{Builtin: true, RulePackId: rp.RulePackId, Version: rp.Version}, nil
}

// DefaultForProfile returns the configured default rule pack for the given profile.
func (r *Repository) DefaultForProfile(profile string) (RulePackRef, bool, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RulePackRef{}, false, nil
		}
		return RulePackRef{}, false, err
	}
	ref, ok := cfg.DefaultByProfile[profile]
	return ref, ok, nil
}

// SetDefaultForProfile updates the default rule pack for profile. The pack
// must be installed.
func (r *Repository) SetDefaultForProfile(profile string, ref RulePackRef) error {
	if r == nil {
		return errors.New("nil repository")
	}
	if err := validateRef(ref.RulePackId, ref.Version); err != nil {
		return err
	}
	if _, err := os.Stat(r.packageDir(ref.RulePackId, ref.Version)); err != nil {
		return fmt.Errorf("rule pack %s: %w", ref, err)
	}
	cfg, err := r.loadConfig()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if cfg.DefaultByProfile == nil {
		cfg.DefaultByProfile = make(map[string]RulePackRef)
	}
	cfg.DefaultByProfile[profile] = ref
	return r.saveConfig(cfg)
}

// Defaults returns a copy of the configured default mappings.
func (r *Repository) Defaults() (map[string]RulePackRef, error) {
	cfg, err := r.loadConfig()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]RulePackRef{}, nil
		}
		return nil, err
	}
	out := make(map[string]RulePackRef, len(cfg.DefaultByProfile))
	for k, v := range cfg.DefaultByProfile {
		out[k] = v
	}
	return out, nil
}

func (r *Repository) latestVersionFor(id string) (string, error) {
	if err := validatePathComponent(id); err != nil {
		return "", fmt.Errorf("invalid rule pack id: %w", err)
	}
	entries, err := os.ReadDir(filepath.Join(r.root, repoRulepacksDir, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	best := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if ver := e.Name(); best == "" || compareVersions(ver, best) > 0 {
			best = ver
		}
	}
	return best, nil
}

func (r *Repository) packageDir(id, version string) string {
	return filepath.Join(r.root, repoRulepacksDir, id, version)
}

func (r *Repository) loadConfig() (repoConfig, error) {
	var cfg repoConfig
	if r == nil {
		return cfg, errors.New("nil repository")
	}
	data, err := os.ReadFile(filepath.Join(r.root, repoConfigFile))
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (r *Repository) saveConfig(cfg repoConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.root, repoConfigFile), data, 0o644)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func validateRef(id, version string) error {
	if err := validatePathComponent(id); err != nil {
		return fmt.Errorf("invalid rule pack id: %w", err)
	}
	if err := validatePathComponent(version); err != nil {
		return fmt.Errorf("invalid rule pack version: %w", err)
	}
	return nil
}

func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("empty string")
	}
	if strings.Contains(s, string(os.PathSeparator)) || strings.Contains(s, "/") {
		return errors.New("contains path separator")
	}
	if s == "." || s == ".." || strings.Contains(s, "..") {
		return errors.New("invalid path component")
	}
	return nil
}

// compareVersions orders dotted numeric versions; non numeric versions
// compare as 0 and then lexically.
func compareVersions(a, b string) int {
	if a == b {
		return 0
	}
	ap := parseVersionParts(a)
	bp := parseVersionParts(b)
	n := len(ap)
	if len(bp) > n {
		n = len(bp)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(ap) {
			ai = ap[i]
		}
		if i < len(bp) {
			bi = bp[i]
		}
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	return strings.Compare(a, b)
}

func parseVersionParts(s string) []int {
	parts := strings.Split(s, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			out = append(out, 0)
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return []int{0}
		}
		out = append(out, v)
	}
	return out
}
