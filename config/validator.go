package config

import (
	"errors"
	"fmt"
	"slices"

	logging "github.com/ipfs/go-log/v2"

	"strzcam.com/posture/capture"
	"strzcam.com/posture/clock"
	"strzcam.com/posture/store"
)

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := clock.LoadZone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}

	if !slices.Contains(capture.Kinds, c.Source.Kind) {
		errs = append(errs, fmt.Errorf("source.kind %q must be one of %v", c.Source.Kind, capture.Kinds))
	}
	switch c.Source.Kind {
	case capture.KindSnapshot, capture.KindMJPEG:
		if c.Source.URL == "" {
			errs = append(errs, fmt.Errorf("source.url is required for %s sources", c.Source.Kind))
		}
	case capture.KindDir, capture.KindShm:
		if c.Source.Path == "" {
			errs = append(errs, fmt.Errorf("source.path is required for %s sources", c.Source.Kind))
		}
	}

	if c.Extractor.URL == "" {
		errs = append(errs, errors.New("extractor.url is required"))
	}
	if c.Models.Spine == "" || c.Models.Sit == "" {
		errs = append(errs, errors.New("models.spine and models.sit are required"))
	}
	if c.Models.GoodSitLabel == "" {
		errs = append(errs, errors.New("models.good_sit_label is required"))
	}

	if c.Pipeline.MaxConsecutiveFailures <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_consecutive_failures must be positive, got %d", c.Pipeline.MaxConsecutiveFailures))
	}
	if q := c.Pipeline.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("pipeline.jpeg_quality must be within 1..100, got %d", q))
	}

	if !slices.Contains(store.Kinds, c.Store.Kind) {
		errs = append(errs, fmt.Errorf("store.kind %q must be one of %v", c.Store.Kind, store.Kinds))
	}
	if c.Store.Kind == store.KindSQLite && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required for sqlite"))
	}
	if c.Store.Kind == store.KindFirebase && c.Store.DatabaseURL == "" {
		errs = append(errs, errors.New("store.database_url (or FIREBASE_DATABASE_URL) is required for firebase"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	return errors.Join(errs...)
}
