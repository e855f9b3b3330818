package engine

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/samthesuperhero/clourfid/internal/config"
	"github.com/samthesuperhero/clourfid/internal/fme"
	"github.com/samthesuperhero/clourfid/internal/ntpcheck"
	"github.com/samthesuperhero/clourfid/internal/protocol"
	"github.com/samthesuperhero/clourfid/internal/template"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// tickInterval paces the main loop's non-blocking read; short enough
// to keep worker commands and STS requests responsive, long enough
// not to spin.
const tickInterval = 50 * time.Millisecond

// readBudget is the maximum number of bytes pulled off the socket in
// one main-loop receive step.
const readBudget = 4096

// errNoLifeTimeout marks the step-9 liveness failure specifically, so
// Run can half-close the connection before the ordinary Close() that
// follows (§4.7).
var errNoLifeTimeout = errors.New("engine: no inbound bytes for reader-no-life-timeout, forcing disconnect")

// Engine owns the lifecycle of one reader connection: TCP
// connect/reconnect, frame reassembly, the auto-reply filter, the CLU
// command pump, reply matching, STS handling, and tag dedup.
type Engine struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *template.Registry
	clu      *fme.Exchange
	sts      *fme.Exchange
	ntp      *ntpcheck.Checker

	state  *State
	queues *SendQueues
	tags   *TagBuffer

	listener net.Listener
	conn     net.Conn
	reasm    *protocol.Reassembler

	pendingCLU []CLURequest
}

// New builds an Engine from a validated config, a logger, an already
// loaded command-template registry, and CLU/STS FME handles scoped to
// this reader's own instance id.
func New(cfg *config.Config, logger *logrus.Logger, registry *template.Registry, clu, sts *fme.Exchange, ntpChecker *ntpcheck.Checker) *Engine {
	own := cfg.Own()
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		clu:      clu,
		sts:      sts,
		ntp:      ntpChecker,
		state:    NewState(),
		queues:   NewSendQueues(),
		tags:     NewTagBuffer(cfg.TagParamDuplicateExclude),
		reasm:    protocol.NewReassembler(own.ParseLimit, protocol.RS485NotUsed),
	}
}

// Run drives the engine until ctx is cancelled or shutdown is
// requested via STS, whichever comes first. ntpSamples delivers
// offsets from the periodic NTP-check auxiliary goroutine; Run is the
// only thing that ever touches the NTP checker's ring, so the
// goroutine posts samples here instead of recording them itself (§5).
// A nil channel is fine — that select case simply never fires.
func (e *Engine) Run(ctx context.Context, ntpSamples <-chan time.Duration) error {
	defer e.closeConn()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case offset := <-ntpSamples:
			e.recordNTPSample(offset)
			continue
		case <-ticker.C:
		}

		if e.state.ShutdownRequested() {
			return nil
		}

		if !e.state.IsConnected() {
			if err := e.connect(ctx); err != nil {
				e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("connect attempt failed")
				continue
			}
		}

		if err := e.runIteration(); err != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("iteration error, disconnecting")
			if errors.Is(err, errNoLifeTimeout) {
				e.halfClose()
			}
			e.disconnect()
		}
	}
}

func (e *Engine) own() config.ReaderConfig { return e.cfg.Own() }

// RequestShutdown asks the engine to stop at the top of its next
// tick. Safe to call from another goroutine: it only touches State,
// which is mutex-guarded, never the single-threaded Engine fields
// (§5's auxiliary-goroutine rule).
func (e *Engine) RequestShutdown() { e.state.RequestShutdown() }

// recordNTPSample feeds one offset sample, received over ntpSamples,
// into the NTP checker's ring and warns if it exceeds the configured
// bound (non-fatal; the fatal gate only runs once at startup, §7).
func (e *Engine) recordNTPSample(offset time.Duration) {
	e.ntp.Record(offset)
	maxOffset := time.Duration(e.cfg.MaxServerTimeOffset * float64(time.Second))
	if offset > maxOffset {
		e.logger.WithFields(logrus.Fields{"component": "engine", "offset": offset}).Warn("NTP offset exceeds max-server-time-offset")
	}
}

// connect establishes the TCP session according to reader-mode:
// "client" means the reader dials in (we listen and accept); "server"
// means we dial the reader.
func (e *Engine) connect(ctx context.Context) error {
	own := e.own()
	switch own.ReaderMode {
	case "client":
		if e.listener == nil {
			lc := net.ListenConfig{Control: setReuseAddr}
			ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", own.Host, own.Port))
			if err != nil {
				return fmt.Errorf("engine: listening on %s:%d: %w", own.Host, own.Port, err)
			}
			e.listener = ln
		}
		if tcpLn, ok := e.listener.(*net.TCPListener); ok {
			tcpLn.SetDeadline(time.Now().Add(tickInterval))
		}
		conn, err := e.listener.Accept()
		if err != nil {
			return fmt.Errorf("engine: accepting connection: %w", err)
		}
		e.conn = conn
	case "server":
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", own.Host, own.Port), time.Duration(own.SockTimeout*float64(time.Second)))
		if err != nil {
			return fmt.Errorf("engine: dialing %s:%d: %w", own.Host, own.Port, err)
		}
		e.conn = conn
	default:
		return fmt.Errorf("engine: unknown reader-mode %q", own.ReaderMode)
	}

	now := time.Now()
	e.state.MarkConnected(now)
	e.reasm.ClearStream()
	e.logger.WithFields(logrus.Fields{"component": "engine", "reader_id": e.cfg.OwnInstanceID}).Info("connected")
	return nil
}

func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (e *Engine) disconnect() {
	e.closeConn()
	e.state.MarkDisconnected(time.Now())
}

func (e *Engine) closeConn() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// halfClose shuts down both directions of the TCP connection before
// the ordinary Close() that follows it, to minimize TIME_WAIT on the
// reader-no-life-timeout disconnect path (§4.7).
func (e *Engine) halfClose() {
	tcpConn, ok := e.conn.(*net.TCPConn)
	if !ok {
		return
	}
	tcpConn.CloseRead()
	tcpConn.CloseWrite()
}

// runIteration executes one pass of the nine-step main-loop body
// described in SPEC_FULL.md §4.7, and the STS handling that follows
// it.
func (e *Engine) runIteration() error {
	own := e.own()

	// Step 1: receive.
	decoded, err := e.receiveAndDecode(own)
	if err != nil {
		return err
	}

	// Step 3: auto-reply filter (also inserts tag records).
	var forMatching []DecodedFrame
	for _, d := range decoded {
		if d.Result != protocol.DecodeOK {
			e.logger.WithFields(logrus.Fields{"component": "engine", "decode_result": d.Result}).Debug("frame decode failed")
			continue
		}
		if e.tryAutoReply(d, own) {
			continue
		}
		forMatching = append(forMatching, d)
	}

	// Step 4: send priority.
	if err := e.flushPriority(); err != nil {
		return err
	}

	// Step 5: pump inbound CLU requests.
	e.pumpCLU()

	// Step 6: send standard.
	if err := e.flushStandard(); err != nil {
		return err
	}

	// Step 7: expire in-flight.
	e.queues.ExpireOlderThan(time.Now(), time.Duration(e.cfg.ReplyFromReaderTimeout*float64(time.Second)))

	// Step 8: match replies.
	SortDecodedByRecvTime(forMatching)
	for _, d := range forMatching {
		e.matchReply(d)
	}

	// STS requests, processed after CLU.
	e.pumpSTS()

	// Step 9: liveness.
	if e.state.SinceLastActivity(time.Now()) > time.Duration(e.cfg.ReaderNoLifeTimeout*float64(time.Second)) {
		return errNoLifeTimeout
	}
	return nil
}

func (e *Engine) receiveAndDecode(own config.ReaderConfig) ([]DecodedFrame, error) {
	e.conn.SetReadDeadline(time.Now().Add(time.Duration(own.SockTimeout * float64(time.Second))))
	buf := make([]byte, readBudget)
	n, err := e.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// Benign: no data this tick.
		} else {
			return nil, fmt.Errorf("engine: socket read: %w", err)
		}
	}
	if n > 0 {
		now := time.Now()
		e.reasm.AddToStream(buf[:n])
		e.state.TouchActivity(now)
	}

	e.reasm.Unpack()
	for _, garbage := range e.reasm.Unknowns() {
		e.logger.WithFields(logrus.Fields{"component": "engine", "bytes": len(garbage)}).Debug("unknown inter-frame bytes")
	}

	now := time.Now()
	var decoded []DecodedFrame
	for _, raw := range e.reasm.Frames() {
		result, frame := protocol.Decode(raw)
		decoded = append(decoded, DecodedFrame{Result: result, Frame: frame, RecvTime: now})
	}
	return decoded, nil
}

// tryAutoReply handles the two frame patterns that never surface to
// userland: the connection-confirm ping and tag uploads. It returns
// true if the frame was consumed.
func (e *Engine) tryAutoReply(d DecodedFrame, own config.ReaderConfig) bool {
	f := d.Frame
	if f.MsgType == protocol.TypeConfManage && f.InitByReader == protocol.InitByReader && f.MID == protocol.ManReaderConnConfirm {
		if len(f.DataBytes) >= 6 && f.DataBytes[0] == 0x00 && f.DataBytes[1] == 0x04 {
			payload := append([]byte(nil), f.DataBytes[2:6]...)
			reply := protocol.Encode(protocol.ManConnConfirm, protocol.TypeConfManage, protocol.InitByUser, protocol.RS485NotUsed, 0, payload, true)
			e.queues.EnqueuePriority(reply)
			return true
		}
	}
	if f.MsgType == protocol.TypeConfOperate && f.InitByReader == protocol.InitByReader && f.MID == protocol.OpReaderEPCDataUpload {
		rec := protocol.DecodeTag(f.DataBytes)
		if !rec.DecodeError {
			if seq, ok := rec.Params[protocol.TagParamSeriesNum]; ok {
				reply := protocol.Encode(protocol.ManTagDataResponse, protocol.TypeConfManage, protocol.InitByUser, protocol.RS485NotUsed, 0, seq.Bytes, true)
				e.queues.EnqueuePriority(reply)
			}
			if own.LogTagFrames {
				e.logger.WithFields(logrus.Fields{"component": "engine", "epc_len": len(rec.EPC)}).Info("tag upload")
			}
			e.tags.Insert(rec)
		} else {
			e.logger.WithFields(logrus.Fields{"component": "engine", "error": rec.DecodeErrorText}).Warn("tag decode failed")
		}
		return true
	}
	return false
}

func (e *Engine) flushPriority() error {
	if len(e.queues.Priority) == 0 {
		return nil
	}
	var out []byte
	for _, f := range e.queues.Priority {
		out = append(out, f...)
	}
	if err := e.writeAll(out); err != nil {
		return err
	}
	e.queues.ClearPriority()
	return nil
}

func (e *Engine) flushStandard() error {
	if len(e.queues.Standard) == 0 {
		return nil
	}
	var out []byte
	for _, f := range e.queues.Standard {
		out = append(out, f...)
	}
	if err := e.writeAll(out); err != nil {
		return err
	}
	e.queues.CommitSent(time.Now())
	return nil
}

func (e *Engine) writeAll(data []byte) error {
	e.conn.SetWriteDeadline(time.Now().Add(time.Duration(e.own().SockTimeout * float64(time.Second))))
	_, err := e.conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil
		}
		return fmt.Errorf("engine: socket write: %w", err)
	}
	return nil
}

// cluQueryContent is the query-content shape of a CLU FME message.
type cluQueryContent struct {
	MSID   string                 `json:"msid"`
	Params map[string]interface{} `json:"prms"`
}

type cluMessage struct {
	WebReqID     string          `json:"web-req-id"`
	QueryContent cluQueryContent `json:"query-content"`
}

// pollCLU drains newly-arrived CLU FME messages into pendingCLU,
// ordered by their embedded filename timestamp.
func (e *Engine) pollCLU() error {
	if _, err := e.clu.Recv("*", "CLU", true, nil); err != nil {
		return fmt.Errorf("engine: polling CLU FME: %w", err)
	}
	for _, msg := range e.clu.GetAll() {
		var m cluMessage
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("malformed CLU message")
			continue
		}
		e.pendingCLU = append(e.pendingCLU, CLURequest{
			WebReqID:   m.WebReqID,
			FromWorker: msg.From,
			MSID:       m.QueryContent.MSID,
			Params:     m.QueryContent.Params,
			RecvdAt:    msg.Timestamp,
		})
	}
	return nil
}

// pumpCLU packs and enqueues every pending CLU request, FIFO across
// workers by embedded timestamp (step 5).
func (e *Engine) pumpCLU() {
	if err := e.pollCLU(); err != nil {
		e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("CLU poll failed")
	}
	SortCLURequestsByTimestamp(e.pendingCLU)

	for _, req := range e.pendingCLU {
		tmpl, ok := e.registry.Get(req.MSID)
		if !ok {
			e.logger.WithFields(logrus.Fields{"component": "engine", "mid": req.MSID}).Warn("unknown msid in CLU request")
			continue
		}
		caller := make([]template.CallerParam, 0, len(req.Params))
		var convErr error
		for k, v := range req.Params {
			pv, err := toParamValue(v)
			if err != nil {
				convErr = fmt.Errorf("key %q: %w", k, err)
				break
			}
			caller = append(caller, template.CallerParam{Key: k, Val: pv})
		}
		if convErr != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "mid": req.MSID, "error": convErr}).Warn("packing CLU request failed")
			continue
		}
		payload, err := template.Pack(tmpl.Snd, caller)
		if err != nil {
			e.logger.WithFields(logrus.Fields{"component": "engine", "mid": req.MSID, "error": err}).Warn("packing CLU request failed")
			continue
		}
		msgType, mid, initByReader := midForMSID(tmpl.Snd)
		frame := protocol.Encode(mid, msgType, initByReader, protocol.RS485NotUsed, 0, payload, true)

		rcvType, rcvMID, rcvInit := midForMSID(tmpl.Rcv)
		pending := PendingRequest{
			WebReqID:   req.WebReqID,
			FromWorker: req.FromWorker,
			MSID:       req.MSID,
			RcvMatch:   MatchTuple{MID: rcvMID, MsgType: rcvType, InitByReader: rcvInit},
		}
		e.queues.EnqueueStandard(frame, pending)
	}
	e.pendingCLU = nil
}

func toParamValue(v interface{}) (template.ParamValue, error) {
	switch val := v.(type) {
	case float64:
		return template.UintValue(uint32(val)), nil
	case string:
		b, err := hex.DecodeString(val)
		if err != nil {
			return template.ParamValue{}, fmt.Errorf("value %q is not a hex string: %w", val, err)
		}
		return template.HexValue(b), nil
	default:
		return template.ParamValue{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// midForMSID resolves a template side's mtyp/msid strings back into
// the numeric (msgType, mid, initByReader) triple by scanning the MID
// registry, since templates are authored with symbolic names. side.Init
// is not read: initByReader is the registry half that holds the label.
func midForMSID(side template.Side) (msgType, mid, initByReader byte) {
	for mt := 0; mt < len(protocol.MID); mt++ {
		if mtypLabel(mt) != side.MTyp {
			continue
		}
		for init := 0; init <= 1; init++ {
			for id, label := range protocol.MID[mt][init] {
				if label == side.MSID {
					return byte(mt), byte(id), byte(init)
				}
			}
		}
	}
	return 0, 0, 0
}

func mtypLabel(mt int) string {
	switch mt {
	case protocol.TypeErrWarn:
		return "TYPE_ERR_WARN"
	case protocol.TypeConfManage:
		return "TYPE_CONF_MANAGE"
	case protocol.TypeConfOperate:
		return "TYPE_CONF_OPERATE"
	case protocol.TypeLog:
		return "TYPE_LOG"
	case protocol.TypeAppUpgrade:
		return "TYPE_APP_UPGRADE"
	case protocol.TypeTest:
		return "TYPE_TEST"
	default:
		return ""
	}
}

// matchReply resolves one decoded frame against queue_sent and, on a
// match, delivers the unpacked reply to the originating worker
// through FME (step 8).
func (e *Engine) matchReply(d DecodedFrame) {
	f := d.Frame
	tuple := MatchTuple{MID: f.MID, MsgType: f.MsgType, InitByReader: f.InitByReader}

	if f.MID == protocol.ErrMID && f.MsgType == protocol.TypeErrWarn {
		if raw, ok := errCtrlWord(f); ok {
			if result, cw := protocol.DecodeControlWord(raw); result == protocol.DecodeOK {
				tuple = MatchTuple{MID: cw.MID, MsgType: cw.MsgType, InitByReader: cw.InitByReader}
			}
		}
	}

	pending, ok := e.queues.MatchAndRemove(tuple)
	if !ok {
		if f.MsgType == protocol.TypeConfManage && f.MID == protocol.ManConnConfirm {
			return // our own MAN_CONN_CONFIRM echoed back by the reader; suppressed.
		}
		e.logger.WithFields(logrus.Fields{"component": "engine", "mid": f.MID, "msg_type": f.MsgType}).Debug("unmatched frame discarded")
		return
	}

	tmpl, ok := e.registry.Get(pending.MSID)
	if !ok {
		return
	}
	values, err := template.Unpack(tmpl.Rcv, f.DataBytes)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"component": "engine", "mid": pending.MSID, "error": err}).Warn("unpacking reply failed")
		return
	}

	reply := struct {
		WebReqID      string                 `json:"web-req-id"`
		ReplyContent  map[string]interface{} `json:"reply-content"`
	}{WebReqID: pending.WebReqID, ReplyContent: paramValuesToJSON(pending.MSID, values)}

	if err := e.clu.Send(pending.FromWorker, "CLU", reply); err != nil {
		e.logger.WithFields(logrus.Fields{"component": "engine", "error": err}).Warn("delivering CLU reply failed")
	}
}

func paramValuesToJSON(msid string, values map[string]template.ParamValue) map[string]interface{} {
	out := map[string]interface{}{"msid": msid}
	for k, v := range values {
		switch v.Kind {
		case template.KindUint:
			out[k] = v.Uint
		case template.KindHex:
			out[k] = fmt.Sprintf("%x", v.Hex)
		case template.KindList:
			out[k] = v.List
		}
	}
	return out
}

// errCtrlWord extracts the 2-byte embedded control word from an
// ERR_MID frame's "ctrlword" parameter, per step 8's special case.
// The original reader payload carries it as the first two bytes
// following the length prefix.
func errCtrlWord(f protocol.Frame) ([]byte, bool) {
	if len(f.DataBytes) < 4 {
		return nil, false
	}
	return f.DataBytes[2:4], true
}
