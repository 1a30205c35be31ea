package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Reloadable is the subset of configuration that is safe to apply while the
// process is running. Auth providers and bind address require a restart.
type Reloadable struct {
	LogLevel       string
	RateLimitPerIP int
	PoolMinSize    int
	PoolMaxSize    int
}

// Watch observes the config file at path and invokes apply with the
// reloadable subset whenever the file changes and still parses cleanly.
// It returns a stop function. A parse failure keeps the running values.
func Watch(path string, apply func(Reloadable)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg := Defaults()
				if err := cfg.loadFile(path); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Config reload skipped: file does not parse")
					continue
				}
				if err := cfg.Validate(); err != nil {
					log.Warn().Err(err).Str("path", path).Msg("Config reload skipped: validation failed")
					continue
				}
				log.Info().Str("path", path).Msg("Config file changed, applying reloadable settings")
				apply(Reloadable{
					LogLevel:       cfg.LogLevel,
					RateLimitPerIP: cfg.RateLimitPerIP,
					PoolMinSize:    cfg.PoolMinSize,
					PoolMaxSize:    cfg.PoolMaxSize,
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
