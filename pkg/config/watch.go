package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the config file when it changes on disk, so buzzer and debug
// settings can be flipped without restarting the daemon. Returns a close
// function for the watcher.
func (c *UserConfig) Watch() (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	go func() {
		// editors emit several write events per save, and some may fire
		// while the file is half-written, so wait out the burst before
		// reloading
		const delay = 1 * time.Second
		var lastLoad time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) {
					continue
				}
				if time.Since(lastLoad) < delay {
					continue
				}
				time.Sleep(delay)
				lastLoad = time.Now()

				if err := c.LoadConfig(); err != nil {
					log.Error().Err(err).Msg("failed to reload config")
				} else {
					log.Info().Msg("config reloaded")
					c.SetDebug(c.GetDebug())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Msg("config watcher error")
			}
		}
	}()

	err = watcher.Add(c.IniPath)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	return watcher.Close, nil
}
