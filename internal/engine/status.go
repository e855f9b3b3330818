package engine

import (
	"time"
)

// Status is the snapshot returned by the STS getstatus api-method.
type Status struct {
	Connected               bool         `json:"connected"`
	ShutdownRequested       bool         `json:"shutdown-requested"`
	ProcessUpSince          string       `json:"process-up-since"`
	ReaderConnectedSince    *string      `json:"reader-connected-since"`
	ReaderDisconnectedSince *string      `json:"reader-disconnected-since"`
	ReaderLastActTime       *string      `json:"reader-last-act-time"`
	NTPOffsetAvgSeconds     float64      `json:"ntp-offset-avg-seconds"`
	NTPOffsetMaxSeconds     float64      `json:"ntp-offset-max-seconds"`
	QueueToSendLen          int          `json:"queue-to-send-len"`
	QueueSentLen            int          `json:"queue-sent-len"`
	TagBufferLen            int          `json:"tag-buffer-len"`
	KnownMIDs               []string     `json:"known-mids"`
	ReaderID                string       `json:"reader-id"`
	Host                    string       `json:"host"`
	Port                    int          `json:"port"`
	ReaderMode              string       `json:"reader-mode"`
	Config                  StatusConfig `json:"config"`
}

// StatusConfig mirrors the running configuration — top-level settings
// plus the reader's own per-id block — so getstatus reflects the
// current config in full, not just host/port/mode (§4.7).
type StatusConfig struct {
	ReplyFromReaderTimeout   float64  `json:"reply-from-reader-timeout"`
	DelayBetweenReads        float64  `json:"delay-between-reads"`
	NTPServiceURL            string   `json:"ntp-service-url"`
	MaxServerTimeOffset      float64  `json:"max-server-time-offset"`
	ReaderNoLifeTimeout      float64  `json:"reader-no-life-timeout"`
	TagParamDuplicateExclude []string `json:"tag-param-duplicate-exclude"`
	SockTimeout              float64  `json:"sock-timeout"`
	ParseLimit               int      `json:"parse-limit"`
	NTPCheckInterval         float64  `json:"ntp-check-interval"`
	LogTagFrames             bool     `json:"log-tag-frames"`
}

// formatInZone renders t shifted by tzHours, in the original
// connector's log timestamp layout, or nil if t is the zero Time.
func formatInZone(t time.Time, tzHours float64) *string {
	if t.IsZero() {
		return nil
	}
	shifted := t.UTC().Add(time.Duration(tzHours * float64(time.Hour)))
	s := shifted.Format("02.01.2006 15:04:05")
	return &s
}

func formatPtrInZone(t *time.Time, tzHours float64) *string {
	if t == nil {
		return nil
	}
	return formatInZone(*t, tzHours)
}

func ntpOffsetStats(history []time.Duration) (avg, max float64) {
	if len(history) == 0 {
		return 0, 0
	}
	var sum, maxDur time.Duration
	for _, d := range history {
		sum += d
		if d > maxDur {
			maxDur = d
		}
	}
	avg = (sum / time.Duration(len(history))).Seconds()
	return avg, maxDur.Seconds()
}
