// internal/config/config.go
//
// This package handles assetflow.yaml and the .assetflow state directory.
// Every project that runs assetflow gets a .assetflow/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

const (
	// StateDirName is the directory created in each project for logs and state.
	StateDirName = ".assetflow"
	// FileName is the default configuration file at the project root.
	FileName = "assetflow.yaml"

	// EnvProduction forces production output when set to a true value.
	EnvProduction = "ASSETFLOW_PRODUCTION"

	defaultDebounce = 150 * time.Millisecond
	defaultWorkers  = 4
	defaultPort     = 3000
)

const defaultConfigYAML = `# assetflow project configuration
version: 1

paths:
  src: assets
  dest: public

# Globs are relative to paths.src.
globs:
  styles: scss/*.scss
  scripts: js/src/*.js
  vendor: js/vendor/*.js
  images: img/**
  icons: icons/*.svg
  templates:
    - "**/*.html"
    - "**/*.php"

# output_prefix turns css/ into _css/ and so on. Set vendor_scripts to false
# for projects without third-party scripts.
variant:
  output_prefix: _
  vendor_scripts: true

production: false

# Every tool reads the asset on stdin and writes the result to stdout.
# {file}, {dir} and {name} expand to the source path, its directory and base name.
tools:
  sass: [sass, --stdin, "--load-path={dir}", --style=expanded]
  autoprefixer:
    argv: [postcss, --use, autoprefixer]
    optional: true
  cssmin: [cleancss]
  uglify: [uglifyjs, --compress, --mangle]
  imagemin:
    argv: []
    optional: true
  jshint: [jshint, --reporter=unix, "{file}"]
  scsslint: [scss-lint, "{file}"]

lint:
  fail_on_error: false

inject:
  enabled: true
  template: index.html
  sprite: sprite.svg

watch:
  debounce: 150ms
  ignore: []

proxy:
  enabled: true
  host: 127.0.0.1
  port: 3000
  # target: http://test.dev

pipeline:
  workers: 4
  max_parallel: 0
  cache_size: 512

clean:
  extra: []
`

// PathsConfig holds the source and destination roots, relative to the
// project directory.
type PathsConfig struct {
	Src  string `yaml:"src"`
	Dest string `yaml:"dest"`
}

// GlobsConfig lists the source patterns per asset category.
type GlobsConfig struct {
	Styles    string   `yaml:"styles"`
	Scripts   string   `yaml:"scripts"`
	Vendor    string   `yaml:"vendor"`
	Images    string   `yaml:"images"`
	Icons     string   `yaml:"icons"`
	Templates []string `yaml:"templates"`
}

// VariantConfig captures the output naming differences between projects.
type VariantConfig struct {
	OutputPrefix  string `yaml:"output_prefix"`
	VendorScripts bool   `yaml:"vendor_scripts"`
}

// ToolConfig describes one external command. In YAML it is either a plain
// argv sequence or a mapping with argv, dir and optional keys.
type ToolConfig struct {
	Argv     []string `yaml:"argv"`
	Dir      string   `yaml:"dir,omitempty"`
	Optional bool     `yaml:"optional,omitempty"`
}

// UnmarshalYAML accepts both the sequence and the mapping form.
func (t *ToolConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		t.Argv = argv
		return nil
	}
	type plain ToolConfig
	var decoded plain
	if err := node.Decode(&decoded); err != nil {
		return err
	}
	*t = ToolConfig(decoded)
	return nil
}

// LintConfig controls how lint findings affect a run.
type LintConfig struct {
	FailOnError bool `yaml:"fail_on_error"`
}

// InjectConfig names the template that receives the sprite.
type InjectConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Template string `yaml:"template"`
	Sprite   string `yaml:"sprite"`
}

// WatchConfig tunes the change router.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Ignore   []string      `yaml:"ignore"`
}

// ProxyConfig configures the development session proxy.
type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Target  string `yaml:"target,omitempty"`
}

// PipelineConfig bounds the work done concurrently.
type PipelineConfig struct {
	Workers     int `yaml:"workers"`
	MaxParallel int `yaml:"max_parallel"`
	CacheSize   int `yaml:"cache_size"`
}

// CleanConfig lists additional directories removed by clean.
type CleanConfig struct {
	Extra []string `yaml:"extra"`
}

// ProjectConfig models assetflow.yaml.
type ProjectConfig struct {
	Version    int                   `yaml:"version"`
	Paths      PathsConfig           `yaml:"paths"`
	Globs      GlobsConfig           `yaml:"globs"`
	Variant    VariantConfig         `yaml:"variant"`
	Production bool                  `yaml:"production"`
	Tools      map[string]ToolConfig `yaml:"tools"`
	Lint       LintConfig            `yaml:"lint"`
	Inject     InjectConfig          `yaml:"inject"`
	Watch      WatchConfig           `yaml:"watch"`
	Proxy      ProxyConfig           `yaml:"proxy"`
	Pipeline   PipelineConfig        `yaml:"pipeline"`
	Clean      CleanConfig           `yaml:"clean"`
}

// Config holds the runtime configuration for assetflow.
type Config struct {
	// ProjectDir is the directory assetflow operates on.
	ProjectDir string

	// StatePath is ProjectDir/.assetflow
	StatePath string

	// File is the configuration file that was read, even if it did not exist.
	File string

	Project ProjectConfig
}

// Init creates the .assetflow directory structure and writes a default
// assetflow.yaml unless one exists. It reports whether the file was created.
//
// Structure created:
// .assetflow/
// ├── logs/    <- assetflow.log and runs.log
// └── state/   <- manifest.json and last-run.json
func Init(projectDir string) (bool, error) {
	if err := ensureStateDirs(filepath.Join(projectDir, StateDirName)); err != nil {
		return false, err
	}
	return ensureProjectConfig(filepath.Join(projectDir, FileName))
}

// Load reads the configuration for projectDir. file may be empty, relative to
// projectDir or absolute. A missing file yields the defaults.
func Load(projectDir, file string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	if strings.TrimSpace(file) == "" {
		file = FileName
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(abs, file)
	}
	cfg := &Config{
		ProjectDir: abs,
		StatePath:  filepath.Join(abs, StateDirName),
		File:       file,
		Project:    Default(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Paths:   PathsConfig{Src: "assets", Dest: "public"},
		Globs: GlobsConfig{
			Styles:    "scss/*.scss",
			Scripts:   "js/src/*.js",
			Vendor:    "js/vendor/*.js",
			Images:    "img/**",
			Icons:     "icons/*.svg",
			Templates: []string{"**/*.html", "**/*.php"},
		},
		Variant: VariantConfig{OutputPrefix: "_", VendorScripts: true},
		Tools:   defaultTools(),
		Inject:  InjectConfig{Enabled: true, Template: "index.html", Sprite: "sprite.svg"},
		Watch:   WatchConfig{Debounce: defaultDebounce},
		Proxy:   ProxyConfig{Enabled: true, Host: "127.0.0.1", Port: defaultPort},
		Pipeline: PipelineConfig{
			Workers:   defaultWorkers,
			CacheSize: 512,
		},
	}
}

func defaultTools() map[string]ToolConfig {
	return map[string]ToolConfig{
		"sass":         {Argv: []string{"sass", "--stdin", "--load-path={dir}", "--style=expanded"}},
		"autoprefixer": {Argv: []string{"postcss", "--use", "autoprefixer"}, Optional: true},
		"cssmin":       {Argv: []string{"cleancss"}},
		"uglify":       {Argv: []string{"uglifyjs", "--compress", "--mangle"}},
		"imagemin":     {Optional: true},
		"jshint":       {Argv: []string{"jshint", "--reporter=unix", "{file}"}},
		"scsslint":     {Argv: []string{"scss-lint", "{file}"}},
	}
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StatePath, "logs")
}

// StateDir returns the path to the state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.StatePath, "state")
}

// EnsureDirs creates the logs and state directories.
func (c *Config) EnsureDirs() error {
	return ensureStateDirs(c.StatePath)
}

// Src returns the source root relative to the project directory.
func (c *Config) Src() string {
	return c.Project.Paths.Src
}

// Dest returns the destination root relative to the project directory.
func (c *Config) Dest() string {
	return c.Project.Paths.Dest
}

// OutputDir returns the destination directory for an asset kind (css, js,
// img), with the variant prefix applied.
func (c *Config) OutputDir(kind string) string {
	return path.Join(c.Project.Paths.Dest, c.Project.Variant.OutputPrefix+kind)
}

// SourceGlob joins a category glob onto the source root.
func (c *Config) SourceGlob(glob string) string {
	return path.Join(c.Project.Paths.Src, glob)
}

// Tool returns the configuration for a named tool.
func (c *Config) Tool(name string) ToolConfig {
	tool := c.Project.Tools[name]
	if tool.Dir == "" {
		tool.Dir = c.ProjectDir
	}
	return tool
}

// Production reports whether minified production output is requested.
func (c *Config) Production() bool {
	return c.Project.Production
}

// SetProduction overrides the production flag for this process.
func (c *Config) SetProduction(enabled bool) {
	c.Project.Production = enabled
}

// CleanTargets lists the generated directories removed by clean.
func (c *Config) CleanTargets() []string {
	targets := []string{c.OutputDir("css"), c.OutputDir("js"), c.OutputDir("img")}
	return append(targets, c.Project.Clean.Extra...)
}

// Save writes the current configuration back to the config file.
func (c *Config) Save() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.File, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", c.File, err)
	}
	return nil
}

func (c *Config) loadProjectConfig() error {
	data, err := os.ReadFile(c.File)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: read %s: %w", c.File, err)
	}

	parsed := Default()
	if err == nil {
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", c.File, err)
		}
	}
	if err := parsed.applyEnvOverrides(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (pc *ProjectConfig) applyEnvOverrides() error {
	raw, ok := os.LookupEnv(EnvProduction)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvProduction, err)
	}
	pc.Production = enabled
	return nil
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Tools == nil {
		pc.Tools = map[string]ToolConfig{}
	}
	for name, tool := range defaultTools() {
		if _, ok := pc.Tools[name]; !ok {
			pc.Tools[name] = tool
		}
	}
	if pc.Watch.Debounce == 0 {
		pc.Watch.Debounce = defaultDebounce
	}
	if pc.Pipeline.Workers == 0 {
		pc.Pipeline.Workers = defaultWorkers
	}
	if pc.Inject.Sprite == "" {
		pc.Inject.Sprite = "sprite.svg"
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Paths.Src = cleanRel(pc.Paths.Src)
	pc.Paths.Dest = cleanRel(pc.Paths.Dest)
	pc.Variant.OutputPrefix = strings.TrimSpace(pc.Variant.OutputPrefix)
	pc.Globs.Styles = strings.TrimSpace(pc.Globs.Styles)
	pc.Globs.Scripts = strings.TrimSpace(pc.Globs.Scripts)
	pc.Globs.Vendor = strings.TrimSpace(pc.Globs.Vendor)
	pc.Globs.Images = strings.TrimSpace(pc.Globs.Images)
	pc.Globs.Icons = strings.TrimSpace(pc.Globs.Icons)
	pc.Globs.Templates = trimAll(pc.Globs.Templates)
	pc.Watch.Ignore = trimAll(pc.Watch.Ignore)
	pc.Inject.Template = cleanRel(pc.Inject.Template)
	pc.Inject.Sprite = strings.TrimSpace(pc.Inject.Sprite)
	pc.Proxy.Host = strings.TrimSpace(pc.Proxy.Host)
	pc.Proxy.Target = strings.TrimRight(strings.TrimSpace(pc.Proxy.Target), "/")
	for i, dir := range pc.Clean.Extra {
		pc.Clean.Extra[i] = cleanRel(dir)
	}
	for name, tool := range pc.Tools {
		tool.Argv = trimAll(tool.Argv)
		tool.Dir = strings.TrimSpace(tool.Dir)
		pc.Tools[name] = tool
	}
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Paths.Src == "" || pc.Paths.Src == "." {
		return fmt.Errorf("paths.src is required")
	}
	if pc.Paths.Dest == "" || pc.Paths.Dest == "." {
		return fmt.Errorf("paths.dest is required")
	}
	if pc.Paths.Src == pc.Paths.Dest {
		return fmt.Errorf("paths.src and paths.dest must differ")
	}
	if strings.ContainsAny(pc.Variant.OutputPrefix, `/\`) {
		return fmt.Errorf("variant.output_prefix must not contain path separators")
	}
	globs := map[string]string{
		"globs.styles":  pc.Globs.Styles,
		"globs.scripts": pc.Globs.Scripts,
		"globs.vendor":  pc.Globs.Vendor,
		"globs.images":  pc.Globs.Images,
		"globs.icons":   pc.Globs.Icons,
	}
	for key, glob := range globs {
		if glob == "" {
			return fmt.Errorf("%s is required", key)
		}
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("%s: invalid pattern %q", key, glob)
		}
	}
	for i, glob := range pc.Globs.Templates {
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("globs.templates[%d]: invalid pattern %q", i, glob)
		}
	}
	for i, glob := range pc.Watch.Ignore {
		if !doublestar.ValidatePattern(glob) {
			return fmt.Errorf("watch.ignore[%d]: invalid pattern %q", i, glob)
		}
	}
	if pc.Inject.Enabled {
		if pc.Inject.Template == "" || pc.Inject.Template == "." {
			return fmt.Errorf("inject.template is required when inject is enabled")
		}
		if strings.ContainsAny(pc.Inject.Sprite, `/\`) {
			return fmt.Errorf("inject.sprite must be a file name")
		}
	}
	if pc.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	if pc.Proxy.Port < 0 || pc.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port %d is out of range", pc.Proxy.Port)
	}
	if pc.Proxy.Target != "" && !strings.HasPrefix(pc.Proxy.Target, "http://") && !strings.HasPrefix(pc.Proxy.Target, "https://") {
		return fmt.Errorf("proxy.target must be an http(s) URL")
	}
	if pc.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1")
	}
	if pc.Pipeline.MaxParallel < 0 {
		return fmt.Errorf("pipeline.max_parallel must not be negative")
	}
	if pc.Pipeline.CacheSize < 0 {
		return fmt.Errorf("pipeline.cache_size must not be negative")
	}
	for i, dir := range pc.Clean.Extra {
		if dir == "" || dir == "." || dir == ".." || strings.HasPrefix(dir, "../") {
			return fmt.Errorf("clean.extra[%d]: %q is outside the project", i, dir)
		}
	}
	return nil
}

func cleanRel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return path.Clean(filepath.ToSlash(trimmed))
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func ensureStateDirs(stateDir string) error {
	for _, dir := range []string{filepath.Join(stateDir, "logs"), filepath.Join(stateDir, "state")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

func ensureProjectConfig(file string) (bool, error) {
	if _, err := os.Stat(file); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("config: stat %s: %w", file, err)
	}
	if err := os.WriteFile(file, []byte(defaultConfigYAML), 0o644); err != nil {
		return false, fmt.Errorf("config: write %s: %w", file, err)
	}
	return true, nil
}
