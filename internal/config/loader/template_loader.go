package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"sigwatch/internal/logger"
)

// FileConfig 是模板覆盖文件的结构：locale -> action -> template 源码。
type FileConfig struct {
	Templates map[string]map[string]string `mapstructure:"templates"`
}

// TemplateSnapshot 对外暴露的只读快照。
type TemplateSnapshot struct {
	Version   int64
	LoadedAt  time.Time
	Templates map[string]map[string]string
}

// ChangeListener 在模板文件变更时被调用。
type ChangeListener func(TemplateSnapshot)

// TemplateLoader 从 YAML 文件加载消息模板，并监听热更新。
type TemplateLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  TemplateSnapshot
	listeners []ChangeListener
}

// NewTemplateLoader 读取模板文件并开始监听 FS 事件。
func NewTemplateLoader(path string) (*TemplateLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("template loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read template file failed: %w", err)
	}
	l := &TemplateLoader{path: path, v: v}
	if err := l.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.reload(); err != nil {
			logger.Errorf("template reload failed (%s): %v", evt.Name, err)
			return
		}
		l.notify()
	})
	v.WatchConfig()
	return l, nil
}

// Snapshot 返回当前模板快照（深拷贝）。
func (l *TemplateLoader) Snapshot() TemplateSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe 注册监听器，后续每次热更新都会回调。
func (l *TemplateLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *TemplateLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("template listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *TemplateLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse template file failed: %w", err)
	}
	normalized := Normalize(fileCfg.Templates)
	l.mu.Lock()
	l.snapshot = TemplateSnapshot{
		Version:   l.snapshot.Version + 1,
		LoadedAt:  time.Now(),
		Templates: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Template loader reloaded %d locales from %s", len(normalized), filepath.Base(l.path))
	return nil
}

// Normalize lower-cases locale and action keys and drops blank templates.
func Normalize(in map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(in))
	for locale, actions := range in {
		loc := strings.ToLower(strings.TrimSpace(locale))
		if loc == "" {
			continue
		}
		for action, src := range actions {
			act := strings.ToLower(strings.TrimSpace(action))
			if act == "" || strings.TrimSpace(src) == "" {
				continue
			}
			if out[loc] == nil {
				out[loc] = make(map[string]string)
			}
			out[loc][act] = src
		}
	}
	return out
}

func cloneSnapshot(src TemplateSnapshot) TemplateSnapshot {
	dst := TemplateSnapshot{Version: src.Version, LoadedAt: src.LoadedAt}
	dst.Templates = make(map[string]map[string]string, len(src.Templates))
	for loc, actions := range src.Templates {
		m := make(map[string]string, len(actions))
		for k, v := range actions {
			m[k] = v
		}
		dst.Templates[loc] = m
	}
	return dst
}
