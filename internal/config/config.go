package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 依次完成：
//  1. 从入口文件展开 include 链，被引用的文件先合并，入口文件最后覆盖；
//  2. 解码到 Config，并记下文件里显式出现过的键；
//  3. 入口文件旁的 .env 与 SIGWATCH_* 环境变量覆盖凭据类字段；
//  4. 未显式设置的字段取默认值，最后整体校验。
func Load(path string) (*Config, error) {
	chain, err := resolveChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	for _, f := range chain.files {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merge %s: %w", f.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}

	keys := make(keySet)
	for _, k := range v.AllKeys() {
		keys.mark(k)
	}
	loadDotEnv(chain.envFiles()...)
	applyEnvOverrides(&cfg, keys)
	cfg.applyDefaults(keys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configFile 是 include 链里读过一次的文件，include 键已剥离。
type configFile struct {
	path     string
	settings map[string]any
}

// includeChain 按合并顺序收集文件：依赖在前，引用者在后。
type includeChain struct {
	files    []configFile
	done     map[string]bool
	visiting map[string]bool
}

func resolveChain(path string) (*includeChain, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	c := &includeChain{done: make(map[string]bool), visiting: make(map[string]bool)}
	if err := c.visit(abs); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *includeChain) visit(path string) error {
	path = filepath.Clean(path)
	if c.visiting[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if c.done[path] {
		return nil
	}
	c.visiting[path] = true

	settings, err := readSettings(path)
	if err != nil {
		return fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	includes, err := includeList(settings["include"])
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	delete(settings, "include")
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := c.visit(inc); err != nil {
			return err
		}
	}

	delete(c.visiting, path)
	c.done[path] = true
	c.files = append(c.files, configFile{path: path, settings: settings})
	return nil
}

// envFiles: the .env beside the entry file, then one in the working directory.
// Variables already in the environment win over both.
func (c *includeChain) envFiles() []string {
	root := c.files[len(c.files)-1].path
	return []string{filepath.Join(filepath.Dir(root), ".env"), ".env"}
}

func readSettings(path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

// includeList 接受单个路径或路径数组。
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []any:
		items = val
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	default:
		return nil, fmt.Errorf("include must be a path or a list of paths")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
