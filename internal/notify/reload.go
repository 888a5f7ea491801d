package notify

import (
	"sigwatch/internal/config/loader"
	"sigwatch/internal/logger"
)

// WatchTemplates applies the override file at path to r and keeps applying it
// whenever the file changes. A broken edit leaves the previous templates active.
func WatchTemplates(r *Renderer, path string) (*loader.TemplateLoader, error) {
	l, err := loader.NewTemplateLoader(path)
	if err != nil {
		return nil, err
	}
	if err := r.Apply(l.Snapshot().Templates); err != nil {
		return nil, err
	}
	l.Subscribe(func(snap loader.TemplateSnapshot) {
		if err := r.Apply(snap.Templates); err != nil {
			logger.Errorf("template override v%d rejected: %v", snap.Version, err)
			return
		}
		logger.Infof("message templates updated to v%d", snap.Version)
	})
	return l, nil
}
