package config

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch calls onChange with a freshly loaded config every time the file at
// path is written. A file that fails to load is logged and skipped so the
// previous config stays in effect. Watching requires the file to exist.
func Watch(path string, onChange func(*Config)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := LoadConfigFrom(path)
		if err != nil {
			logrus.Warnf("[config] reload %s failed, keeping previous config: %v", e.Name, err)
			return
		}
		logrus.Infof("[config] reloaded %s", e.Name)
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
