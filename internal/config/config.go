// Package config loads and validates the connector's JSON config file
// and the three positional CLI arguments the process is launched
// with: reader id, config file path, and logging timezone offset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// ReaderConfig is the per-reader-id settings block.
type ReaderConfig struct {
	Host             string  `json:"host"`
	Port             int     `json:"port"`
	ReaderMode       string  `json:"reader-mode"` // "client" or "server"
	SockTimeout      float64 `json:"sock-timeout"`
	ParseLimit       int     `json:"parse-limit"`
	NTPCheckInterval float64 `json:"ntp-check-interval"`
	LogTagFrames     bool    `json:"log-tag-frames"`
}

// Config is the fully loaded and validated top-level configuration
// for one running instance of the connector.
type Config struct {
	LogDir                  string                  `json:"log-dir"`
	CmdsDir                 string                  `json:"cmds-dir"`
	ClouRun                 string                  `json:"clou-run"`
	ReadersList             []string                `json:"readers-list"`
	ReplyFromReaderTimeout  float64                 `json:"reply-from-reader-timeout"`
	DelayBetweenReads       float64                 `json:"delay-between-reads"`
	NTPServiceURL           string                  `json:"ntp-service-url"`
	MaxServerTimeOffset     float64                 `json:"max-server-time-offset"`
	ReaderNoLifeTimeout     float64                 `json:"reader-no-life-timeout"`
	TagParamDuplicateExclude []string               `json:"tag-param-duplicate-exclude"`
	Readers                 map[string]ReaderConfig `json:"-"`

	// OwnInstanceID and LogTimeZone come from CLI arguments, not JSON.
	OwnInstanceID string  `json:"-"`
	LogTimeZone   float64 `json:"-"`
}

// rawConfig mirrors Config's JSON shape but additionally captures the
// per-reader-id blocks, which are arbitrary top-level keys equal to a
// reader id rather than a fixed field name.
type rawConfig struct {
	LogDir                   string          `json:"log-dir"`
	CmdsDir                  string          `json:"cmds-dir"`
	ClouRun                  string          `json:"clou-run"`
	ReadersList              []string        `json:"readers-list"`
	ReplyFromReaderTimeout   float64         `json:"reply-from-reader-timeout"`
	DelayBetweenReads        float64         `json:"delay-between-reads"`
	NTPServiceURL            string          `json:"ntp-service-url"`
	MaxServerTimeOffset      float64         `json:"max-server-time-offset"`
	ReaderNoLifeTimeout      float64         `json:"reader-no-life-timeout"`
	TagParamDuplicateExclude []string        `json:"tag-param-duplicate-exclude"`
}

// ParseTimezone parses a timezone argument of the form "+0300" or
// "-0500" into signed fractional hours, matching the original
// connector's command-line timezone argument.
func ParseTimezone(s string) (float64, error) {
	if len(s) != 5 || (s[0] != '+' && s[0] != '-') {
		return 0, fmt.Errorf("config: timezone %q must be of the form +HHMM or -HHMM", s)
	}
	hours, err := strconv.Atoi(s[1:3])
	if err != nil {
		return 0, fmt.Errorf("config: timezone %q has an invalid hour component: %w", s, err)
	}
	minutes, err := strconv.Atoi(s[3:5])
	if err != nil {
		return 0, fmt.Errorf("config: timezone %q has an invalid minute component: %w", s, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("config: timezone %q is out of range", s)
	}
	tz := float64(hours) + float64(minutes)/60
	if s[0] == '-' {
		tz = -tz
	}
	return tz, nil
}

// Load reads args (own instance id, config file path, timezone
// string), parses and validates the JSON config at that path, and
// returns a fully populated Config. Every failure here is the kind
// SPEC_FULL.md §7 classifies as fatal at startup.
func Load(ownInstanceID, confFileName, logTimeZoneStr string) (*Config, error) {
	tz, err := ParseTimezone(logTimeZoneStr)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(confFileName)
	if err != nil {
		return nil, fmt.Errorf("config: can't open config file %q: %w", confFileName, err)
	}

	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, fmt.Errorf("config: can't decode JSON from config file %q: %w", confFileName, err)
	}

	var withReaders map[string]json.RawMessage
	if err := json.Unmarshal(raw, &withReaders); err != nil {
		return nil, fmt.Errorf("config: can't decode JSON from config file %q: %w", confFileName, err)
	}

	found := false
	readers := map[string]ReaderConfig{}
	for _, rid := range rc.ReadersList {
		if rid == ownInstanceID {
			found = true
		}
		block, ok := withReaders[rid]
		if !ok {
			continue
		}
		var readerCfg ReaderConfig
		if err := json.Unmarshal(block, &readerCfg); err == nil {
			readers[rid] = readerCfg
		}
	}
	if !found {
		return nil, fmt.Errorf("config: rid = [%s] not set in config list", ownInstanceID)
	}
	if _, ok := readers[ownInstanceID]; !ok {
		return nil, fmt.Errorf("config: rid = [%s] set in config list, but settings key not found", ownInstanceID)
	}

	cfg := &Config{
		LogDir:                   rc.LogDir,
		CmdsDir:                  rc.CmdsDir,
		ClouRun:                  rc.ClouRun,
		ReadersList:              rc.ReadersList,
		ReplyFromReaderTimeout:   rc.ReplyFromReaderTimeout,
		DelayBetweenReads:        rc.DelayBetweenReads,
		NTPServiceURL:            rc.NTPServiceURL,
		MaxServerTimeOffset:      rc.MaxServerTimeOffset,
		ReaderNoLifeTimeout:      rc.ReaderNoLifeTimeout,
		TagParamDuplicateExclude: rc.TagParamDuplicateExclude,
		Readers:                  readers,
		OwnInstanceID:            ownInstanceID,
		LogTimeZone:              tz,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("config: %q is required", "log-dir")
	}
	if c.ClouRun == "" {
		return fmt.Errorf("config: %q is required", "clou-run")
	}
	if c.NTPServiceURL == "" {
		return fmt.Errorf("config: %q is required", "ntp-service-url")
	}
	if c.ReplyFromReaderTimeout <= 0 {
		return fmt.Errorf("config: %q must be positive", "reply-from-reader-timeout")
	}

	own := c.Readers[c.OwnInstanceID]
	switch own.ReaderMode {
	case "client", "server":
	default:
		return fmt.Errorf("config: reader %q has invalid reader-mode %q (want \"client\" or \"server\")", c.OwnInstanceID, own.ReaderMode)
	}
	if own.Host == "" {
		return fmt.Errorf("config: reader %q is missing %q", c.OwnInstanceID, "host")
	}
	if own.Port <= 0 || own.Port > 65535 {
		return fmt.Errorf("config: reader %q has invalid port %d", c.OwnInstanceID, own.Port)
	}
	if own.SockTimeout <= 0 {
		return fmt.Errorf("config: reader %q has invalid sock-timeout %v", c.OwnInstanceID, own.SockTimeout)
	}
	if own.ParseLimit <= 0 {
		return fmt.Errorf("config: reader %q has invalid parse-limit %v", c.OwnInstanceID, own.ParseLimit)
	}
	if own.NTPCheckInterval <= 0 {
		return fmt.Errorf("config: reader %q has invalid ntp-check-interval %v", c.OwnInstanceID, own.NTPCheckInterval)
	}
	return nil
}

// Own returns the per-reader settings block for this instance.
func (c *Config) Own() ReaderConfig { return c.Readers[c.OwnInstanceID] }
