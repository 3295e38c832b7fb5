package config

import (
	log "github.com/sirupsen/logrus"
)

// InitLogger applies the level and format to the standard logrus logger.
// An unknown level falls back to info.
func InitLogger(cfg LogConfig) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}
