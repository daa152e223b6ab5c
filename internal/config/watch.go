package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// ErrNoConfigFile is returned by WatchPolicy when there is no file to watch.
var ErrNoConfigFile = errors.New("no config file in use")

// WatchPolicy re-reads the configuration whenever the config file changes and
// passes the new policy section to apply. A change that fails validation is
// logged and ignored, so the previously applied table stays in force.
func WatchPolicy(configPath string, apply func(PolicyConfig)) error {
	v, err := newViper(configPath)
	if err != nil {
		return err
	}
	if path := v.ConfigFileUsed(); path == "" {
		return ErrNoConfigFile
	} else if _, err := os.Stat(path); err != nil {
		return ErrNoConfigFile
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			slog.Error("ignoring config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("policy table reloaded", "file", e.Name)
		apply(cfg.Policy)
	})
	v.WatchConfig()
	return nil
}
