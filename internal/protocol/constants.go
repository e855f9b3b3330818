// Package protocol implements the Clou reader wire protocol: frame
// encode/decode, stream reassembly, tag-data decoding, and the
// constant registries (message types, MIDs, error codes, frequency
// bands) that the rest of the connector looks values up in.
package protocol

// RS-485 usage flag values (control word bit 5).
const (
	RS485NotUsed = 0
	RS485Used    = 1
)

// Initiation direction (control word bit 4).
const (
	InitByUser   = 0
	InitByReader = 1
)

// Message types (control word low nibble, 0..5).
const (
	TypeErrWarn    = 0
	TypeConfManage = 1
	TypeConfOperate = 2
	TypeLog        = 3
	TypeAppUpgrade = 4
	TypeTest       = 5
)

// Frame-level error codes, as reported by TYPE_ERR_WARN frames.
const (
	ErrNumber                    = 0
	ErrCRC                       = 1
	ErrWrongMID                  = 2
	ErrProtocolControlWord       = 3
	ErrCantExecuteInCurrStatus   = 4
	ErrCommandListFull           = 5
	ErrMessParamsIncomplete      = 6
	ErrFrameLenExceedLimit       = 7
	ErrOther                     = 8
)

// Reader status codes.
const (
	StatusIdle      = 0
	StatusExecution = 1
	StatusError     = 2
)

// ErrMID is the MID used on reader-initiated TYPE_ERR_WARN frames
// (there is no user-initiated error MID; this is reader-only).
const ErrMID = 0x00

// MIDs for TYPE_CONF_MANAGE, user-initiated side.
const (
	ManQueryInfo        = 0x00
	ManQueryBaseband     = 0x01
	ManConfRS232         = 0x02
	ManQueryRS232Conf    = 0x03
	ManIPConf            = 0x04
	ManQueryIP           = 0x05
	ManQueryMAC          = 0x06
	ManConfCliSrvMode    = 0x07
	ManQueryCliSrvMode   = 0x08
	ManConfGPO           = 0x09
	ManQueryGPIStatus    = 0x0A
	ManConfGPITrig       = 0x0B
	ManQueryGPITrig      = 0x0C
	ManConfWiegand       = 0x0D
	ManQueryWiegand      = 0x0E
	ManRestart           = 0x0F
	ManConfTime          = 0x10
	ManQueryTime         = 0x11
	ManConnConfirm       = 0x12
	ManConfMAC           = 0x13
	ManRestoreDefault    = 0x14
	ManConfRS485Adr      = 0x15
	ManQueryRS485Adr     = 0x16
	ManTagDataResponse   = 0x1D
	ManBuzzControl       = 0x1F
)

// MIDs for TYPE_CONF_MANAGE, reader-initiated side.
const (
	ManReaderTrigStartMess = 0x00
	ManReaderTrigStopMess  = 0x01
	ManReaderConnConfirm   = 0x12
)

// MIDs for TYPE_CONF_OPERATE, user-initiated side.
const (
	OpQueryRFIDAbility  = 0x00
	OpConfPower         = 0x01
	OpQueryPower        = 0x02
	OpConfRFBand        = 0x03
	OpQueryRFBand       = 0x04
	OpConfFreq          = 0x05
	OpQueryFreq         = 0x06
	OpConfAnt           = 0x07
	OpQueryAnt          = 0x08
	OpConfTagUpload     = 0x09
	OpQueryTagUpload    = 0x0A
	OpConfEPCBaseband   = 0x0B
	OpQueryEPCBaseband  = 0x0C
	OpConfAutoIdle      = 0x0D
	OpQueryAutoIdle     = 0x0E
	OpReadEPCTag        = 0x10
	OpWriteEPCTag       = 0x11
	OpLockTag           = 0x12
	OpKillTag           = 0x13
	OpRead6BTag         = 0x40
	OpWrite6BTag        = 0x41
	OpLock6BTag         = 0x42
	OpQuery6BTagLocking = 0x43
	OpStop              = 0xFF
)

// MIDs for TYPE_CONF_OPERATE, reader-initiated side.
const (
	OpReaderEPCDataUpload = 0x00
	OpReaderEPCReadFinish = 0x01
	OpReader6BDataUpload  = 0x02
	OpReader6BReadQuit    = 0x03
)

// MID holds, per (message type, init-by-reader), the set of known MID
// label strings keyed by their numeric value. Index as
// MID[msgType][initByReader][mid].
var MID = [6][2]map[int]string{
	{ // TYPE_ERR_WARN
		{}, // user-initiated: none defined
		{ErrMID: "ERR_MID"},
	},
	{ // TYPE_CONF_MANAGE
		{
			ManQueryInfo:      "MAN_QUERY_INFO",
			ManQueryBaseband:   "MAN_QUERY_BASEBAND",
			ManConfRS232:       "MAN_CONF_RS232",
			ManQueryRS232Conf:  "MAN_QUERY_RS232_CONF",
			ManIPConf:          "MAN_IP_CONF",
			ManQueryIP:         "MAN_QUERY_IP",
			ManQueryMAC:        "MAN_QUERY_MAC",
			ManConfCliSrvMode:  "MAN_CONF_CLI_SRV_MODE",
			ManQueryCliSrvMode: "MAN_QUERY_CLI_SRV_MODE",
			ManConfGPO:         "MAN_CONF_GPO",
			ManQueryGPIStatus:  "MAN_QUERY_GPI_STATUS",
			ManConfGPITrig:     "MAN_CONF_GPI_TRIG",
			ManQueryGPITrig:    "MAN_QUERY_GPI_TRIG",
			ManConfWiegand:     "MAN_CONF_WIEGAND",
			ManQueryWiegand:    "MAN_QUERY_WIEGAND",
			ManRestart:         "MAN_RESTART",
			ManConfTime:        "MAN_CONF_TIME",
			ManQueryTime:       "MAN_QUERY_TIME",
			ManConnConfirm:     "MAN_CONN_CONFIRM",
			ManConfMAC:         "MAN_CONF_MAC",
			ManRestoreDefault:  "MAN_RESTORE_DEFAULT",
			ManConfRS485Adr:    "MAN_CONF_RS485_ADR",
			ManQueryRS485Adr:   "MAN_QUERY_RS485_ADR",
			ManTagDataResponse: "MAN_TAG_DATA_RESPONSE",
			ManBuzzControl:     "MAN_BUZZ_CONTROL",
		},
		{
			ManReaderTrigStartMess: "MAN_READER_TRIG_START_MESS",
			ManReaderTrigStopMess:  "MAN_READER_TRIG_STOP_MESS",
			ManReaderConnConfirm:   "MAN_READER_CONN_CONFIRM",
		},
	},
	{ // TYPE_CONF_OPERATE
		{
			OpQueryRFIDAbility:  "OP_QUERY_RFID_ABILITY",
			OpConfPower:         "OP_CONF_POWER",
			OpQueryPower:        "OP_QUERY_POWER",
			OpConfRFBand:        "OP_CONF_RF_BAND",
			OpQueryRFBand:       "OP_QUERY_RF_BAND",
			OpConfFreq:          "OP_CONF_FREQ",
			OpQueryFreq:         "OP_QUERY_FREQ",
			OpConfAnt:           "OP_CONF_ANT",
			OpQueryAnt:          "OP_QUERY_ANT",
			OpConfTagUpload:     "OP_CONF_TAG_UPLOAD",
			OpQueryTagUpload:    "OP_QUERY_TAG_UPLOAD",
			OpConfEPCBaseband:   "OP_CONF_EPC_BASEBAND",
			OpQueryEPCBaseband:  "OP_QUERY_EPC_BASEBAND",
			OpConfAutoIdle:      "OP_CONF_AUTO_IDLE",
			OpQueryAutoIdle:     "OP_QUERY_AUTO_IDLE",
			OpReadEPCTag:        "OP_READ_EPC_TAG",
			OpWriteEPCTag:       "OP_WRITE_EPC_TAG",
			OpLockTag:           "OP_LOCK_TAG",
			OpKillTag:           "OP_KILL_TAG",
			OpRead6BTag:         "OP_READ_6B_TAG",
			OpWrite6BTag:        "OP_QRITE_6B_TAG",
			OpLock6BTag:         "OP_LOCK_6B_TAG",
			OpQuery6BTagLocking: "OP_QUERY_6B_TAG_LOCKING",
			OpStop:              "OP_STOP",
		},
		{
			OpReaderEPCDataUpload: "OP_READER_EPC_DATA_UPLOAD",
			OpReaderEPCReadFinish: "OP_READER_EPC_READ_FINISH",
			OpReader6BDataUpload:  "OP_READER_6B_DATA_UPLOAD",
			OpReader6BReadQuit:    "OP_READER_6B_READ_QUIT",
		},
	},
	{}, // TYPE_LOG: no MIDs defined by this registry
	{}, // TYPE_APP_UPGRADE: no MIDs defined by this registry
	{}, // TYPE_TEST: no MIDs defined by this registry
}

// MIDLabel looks up the symbolic name for (msgType, initByReader, mid).
// ok is false when the triple is not a known MID.
func MIDLabel(msgType, initByReader, mid int) (label string, ok bool) {
	if msgType < 0 || msgType >= len(MID) {
		return "", false
	}
	if initByReader < 0 || initByReader > 1 {
		return "", false
	}
	label, ok = MID[msgType][initByReader][mid]
	return label, ok
}

// FullMIDList is every known MID label across all types and
// directions; the template loader uses it to decide which on-disk
// JSON files to load by filename stem.
var FullMIDList = buildFullMIDList()

func buildFullMIDList() map[string]struct{} {
	out := make(map[string]struct{})
	for _, perDirection := range MID {
		for _, perMID := range perDirection {
			for _, label := range perMID {
				out[label] = struct{}{}
			}
		}
	}
	return out
}

// DecodeFrameErrors maps Decode's result codes to human text.
var DecodeFrameErrors = map[int]string{
	0: "OK",
	1: "No 0xAA frame header symbol",
	2: "CRC error",
	3: "Frame len < minimum required bytes",
	4: "Message type > 5",
	5: "Reserved bits in control word are not 0",
	6: "Wrong MID number for control word",
	7: "RS485 not supported",
	8: "Frame data len parameter not match frame data len",
}

// Tag-data optional parameter ids (§3 / §4.4).
const (
	TagParamRSSI           = 0x01
	TagParamReadResult     = 0x02
	TagParamTID            = 0x03
	TagParamUserArea       = 0x04
	TagParamRetentionArea  = 0x05
	TagParamSubAnt         = 0x06
	TagParamTime           = 0x07
	TagParamSeriesNum      = 0x08
	TagParamFreq           = 0x09
	TagParamPhase          = 0x0A
	TagParamEMSensorData   = 0x0B
	TagParamAdditionalData = 0x0C
)

// DecodeTagData maps tag-data optional parameter ids to their label.
var DecodeTagData = map[int]string{
	TagParamRSSI:           "RSSI",
	TagParamReadResult:     "DATA_READ_RESULT",
	TagParamTID:            "TID",
	TagParamUserArea:       "USER_AREA",
	TagParamRetentionArea:  "RETENTION_AREA",
	TagParamSubAnt:         "SUB_ANT",
	TagParamTime:           "TIME",
	TagParamSeriesNum:      "SERIES_NUM",
	TagParamFreq:           "FREQ",
	TagParamPhase:          "PHASE",
	TagParamEMSensorData:   "EM_SENSOR_DATA",
	TagParamAdditionalData: "ADDITIONAL_DATA",
}

// DecodeTagDataReadResult maps the 0x02 read-result byte to text.
var DecodeTagDataReadResult = map[int]string{
	0: "Read successful",
	1: "Tag no response",
	2: "CRC error",
	3: "Data area is locked",
	4: "Data area overflow",
	5: "Access password error",
	6: "Other tag error",
	7: "Other reader error",
}

// FreqBands maps the frequency-band enum to its human description.
var FreqBands = map[int]string{
	0: "920~925MHz",
	1: "840~845MHz",
	2: "840~845MHz & 920~925MHz",
	3: "FCC: 902~928MHz",
	4: "ETSI: 866~868MHz",
	5: "JP: 916.8~920.4MHz",
	6: "TW: 922.25~927.75MHz",
	7: "ID: 923.125~925.125MHz",
	8: "RU: 866.6~867.4MHz",
}

// RFIDProtocols maps the air-protocol enum to its human description.
var RFIDProtocols = map[int]string{
	0: "ISO18000-6C/EPC C1G2",
	1: "ISO18000-6B",
	2: "China standard GB/T 29768-2013",
	3: "China Military GJB 7383.1-2011",
}
