package engine

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samthesuperhero/clourfid/internal/protocol"
	"github.com/sirupsen/logrus"
)

// stsQueryContent is the query-content shape of an STS FME message.
type stsQueryContent struct {
	APIMethod string `json:"api-method"`
}

type stsMessage struct {
	WebReqID     string          `json:"web-req-id"`
	QueryContent stsQueryContent `json:"query-content"`
}

// pumpSTS drains and answers STS requests, processed after CLU per
// §4.7.
func (e *Engine) pumpSTS() {
	if _, err := e.sts.Recv("*", "STS", true, nil); err != nil {
		e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("polling STS FME failed")
		return
	}
	for _, msg := range e.sts.GetAll() {
		var m stsMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("malformed STS message")
			continue
		}
		reply := e.handleSTS(m.QueryContent.APIMethod)
		envelope := struct {
			WebReqID     string      `json:"web-req-id"`
			ReplyContent interface{} `json:"reply-content"`
		}{WebReqID: m.WebReqID, ReplyContent: reply}
		if err := e.sts.Send(msg.From, "STS", envelope); err != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("delivering STS reply failed")
		}
	}
}

func (e *Engine) handleSTS(apiMethod string) interface{} {
	switch apiMethod {
	case "update":
		err := e.registry.Load()
		return map[string]interface{}{"is-ok": err == nil, "result": errString(err)}
	case "shutdown":
		e.state.RequestShutdown()
		return map[string]interface{}{"is-ok": true, "result": "shutdown requested"}
	case "getstatus":
		return e.getStatus()
	case "cleandata":
		n := e.tags.Clear()
		return map[string]interface{}{"is-ok": true, "result": fmt.Sprintf("erased %d", n)}
	case "getdatacount":
		return map[string]interface{}{"count": e.tags.Len()}
	case "getdata":
		return map[string]interface{}{"records": tagRecordsToJSON(e.tags.All())}
	default:
		return map[string]interface{}{"is-ok": false, "result": fmt.Sprintf("unknown api-method %q", apiMethod)}
	}
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func (e *Engine) getStatus() Status {
	snap := e.state.Snapshot()
	tz := e.cfg.LogTimeZone
	avg, max := ntpOffsetStats(e.ntp.History())
	own := e.own()

	return Status{
		Connected:               snap.Connected,
		ShutdownRequested:       snap.ShutdownRequested,
		ProcessUpSince:          *formatInZone(snap.ProcessUpSince, tz),
		ReaderConnectedSince:    formatPtrInZone(snap.ConnectedSince, tz),
		ReaderDisconnectedSince: formatPtrInZone(snap.DisconnectedSince, tz),
		ReaderLastActTime:       formatInZone(snap.ReaderLastActTime, tz),
		NTPOffsetAvgSeconds:     avg,
		NTPOffsetMaxSeconds:     max,
		QueueToSendLen:          len(e.queues.QueueToSend),
		QueueSentLen:            len(e.queues.QueueSent),
		TagBufferLen:            e.tags.Len(),
		KnownMIDs:               e.registry.Names(),
		ReaderID:                e.cfg.OwnInstanceID,
		Host:                    own.Host,
		Port:                    own.Port,
		ReaderMode:              own.ReaderMode,
		Config: StatusConfig{
			ReplyFromReaderTimeout:   e.cfg.ReplyFromReaderTimeout,
			DelayBetweenReads:        e.cfg.DelayBetweenReads,
			NTPServiceURL:            e.cfg.NTPServiceURL,
			MaxServerTimeOffset:      e.cfg.MaxServerTimeOffset,
			ReaderNoLifeTimeout:      e.cfg.ReaderNoLifeTimeout,
			TagParamDuplicateExclude: e.cfg.TagParamDuplicateExclude,
			SockTimeout:              own.SockTimeout,
			ParseLimit:               own.ParseLimit,
			NTPCheckInterval:         own.NTPCheckInterval,
			LogTagFrames:             own.LogTagFrames,
		},
	}
}

func tagRecordsToJSON(records []protocol.TagRecord) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(records))
	for _, r := range records {
		params := make(map[string]interface{}, len(r.Params))
		for id, v := range r.Params {
			label, ok := protocol.DecodeTagData[id]
			if !ok {
				label = fmt.Sprintf("0x%02X", id)
			}
			params[label] = tagParamValueToJSON(id, v)
		}
		out = append(out, map[string]interface{}{
			"epc":    hex.EncodeToString(r.EPC),
			"pc":     r.PC,
			"ant_id": r.AntID,
			"params": params,
		})
	}
	return out
}

// tagParamValueToJSON picks the meaningful field of a TagParamValue by
// the same id classification DecodeTag uses to fill it in.
func tagParamValueToJSON(id int, v protocol.TagParamValue) interface{} {
	switch id {
	case protocol.TagParamTID, protocol.TagParamUserArea, protocol.TagParamRetentionArea,
		protocol.TagParamAdditionalData, protocol.TagParamSeriesNum:
		return hex.EncodeToString(v.Bytes)
	case protocol.TagParamTime:
		return v.Time
	default:
		return v.Byte
	}
}
