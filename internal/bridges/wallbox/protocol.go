package wallbox

import (
	"fmt"
	"strconv"
	"strings"
)

// EEPROM indexes of the settings the bridge manages.
const (
	IndexSafeLimit = 156
	IndexDPMLimit  = 158
	IndexUserLimit = 174
	IndexDPMMode   = 178
)

// Fixed commands with no parameters. All commands are newline-terminated.
const (
	CmdLogout            = "$BLE,LOGOUT\n"
	CmdReadAlarms        = "$EEP,READ,AL\n"
	CmdReadManufacturing = "$EEP,READ,MF\n"
	CmdReadSessions      = "$EEP,READ,SL\n"
	CmdReadSettings      = "$EEP,READ,ST\n"
	CmdReadAppData       = "$DATA,READ,AD\n"
	CmdReadHWSettings    = "$DATA,READ,HS\n"
	CmdReadSupplyVoltage = "$DATA,READ,SV\n"
)

const (
	writeIndexPrefix = "$EEP,WRITE,IDX,"
	readIndexPrefix  = "$EEP,READ,IDX,"
	dpmStatusPrefix  = "$DPM,STATUS,"
)

const loginPrefix = "$BLE,AUTH,"

// LoginCommand formats the authentication command for pin.
func LoginCommand(pin string) string {
	return loginPrefix + pin + "\n"
}

// Redact masks the PIN in a login command so it can be logged.
// Other commands are returned trimmed of the terminator.
func Redact(cmd string) string {
	text := strings.TrimRight(cmd, "\r\n")
	if rest, ok := strings.CutPrefix(text, loginPrefix); ok && rest != "" &&
		rest != "OK" && rest != "FAIL" {
		return loginPrefix + "****"
	}
	return text
}

// WriteIndexCommand formats an EEPROM write of value at index.
func WriteIndexCommand(index int, value int64) string {
	return fmt.Sprintf("%s%d,%d\n", writeIndexPrefix, index, value)
}

// ReadIndexCommand formats an EEPROM read of index.
func ReadIndexCommand(index int) string {
	return fmt.Sprintf("%s%d\n", readIndexPrefix, index)
}

// ChargeCommand formats a charge start or stop with a delay in seconds.
func ChargeCommand(start bool, delay int64) string {
	action := "STOP"
	if start {
		action = "START"
	}
	return fmt.Sprintf("$CMD,CHARGE,%s,%d\n", action, delay)
}

// PairedRead returns the read command that verifies a write command.
// The second result is false when cmd is not an EEPROM index write.
func PairedRead(cmd string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(cmd), writeIndexPrefix)
	if !ok {
		return "", false
	}
	idx, _, ok := strings.Cut(rest, ",")
	if !ok {
		return "", false
	}
	index, err := strconv.Atoi(idx)
	if err != nil || index < 0 {
		return "", false
	}
	return ReadIndexCommand(index), true
}

// ResponseKind classifies a line received from the wallbox.
type ResponseKind int

// Response kinds recognised by ParseResponse.
const (
	ResponseUnknown ResponseKind = iota
	ResponseIndexValue
	ResponseDPMStatus
	ResponseAuthOK
	ResponseAuthFailed
	ResponseAuthError
	ResponseBusy
	ResponseSyntaxError
	ResponseWriteFailed
	ResponseLogoutOK
)

var responseKindNames = map[ResponseKind]string{
	ResponseUnknown:     "unknown",
	ResponseIndexValue:  "index_value",
	ResponseDPMStatus:   "dpm_status",
	ResponseAuthOK:      "auth_ok",
	ResponseAuthFailed:  "auth_failed",
	ResponseAuthError:   "auth_error",
	ResponseBusy:        "busy",
	ResponseSyntaxError: "syntax_error",
	ResponseWriteFailed: "write_failed",
	ResponseLogoutOK:    "logout_ok",
}

// String returns the snake_case name used in logs and metrics.
func (k ResponseKind) String() string {
	if name, ok := responseKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsAuthFailure reports whether the response means the PIN was refused.
func (k ResponseKind) IsAuthFailure() bool {
	return k == ResponseAuthFailed || k == ResponseAuthError
}

// Response is a parsed wallbox line.
type Response struct {
	Kind  ResponseKind
	Index int    // ResponseIndexValue only
	Value string // ResponseIndexValue and ResponseDPMStatus
	Raw   string
}

var fixedResponses = map[string]ResponseKind{
	"$BLE,AUTH,OK":    ResponseAuthOK,
	"$BLE,AUTH,FAIL":  ResponseAuthFailed,
	"$ERR,AUTH":       ResponseAuthError,
	"$ERR,BUSY":       ResponseBusy,
	"$ERR,SYNTAX":     ResponseSyntaxError,
	"$EEP,WRITE,FAIL": ResponseWriteFailed,
	"$BLE,LOGOUT,OK":  ResponseLogoutOK,
}

// ParseResponse classifies a framed line. Surrounding whitespace, including
// a carriage return, is ignored. Lines outside the known grammar come back
// as ResponseUnknown; ParseResponse never fails.
func ParseResponse(line string) Response {
	text := strings.TrimSpace(line)
	resp := Response{Kind: ResponseUnknown, Raw: text}

	if kind, ok := fixedResponses[text]; ok {
		resp.Kind = kind
		return resp
	}

	if rest, ok := strings.CutPrefix(text, readIndexPrefix); ok {
		idx, value, ok := strings.Cut(rest, ",")
		if !ok {
			return resp
		}
		index, err := strconv.Atoi(idx)
		if err != nil || index < 0 {
			return resp
		}
		resp.Kind = ResponseIndexValue
		resp.Index = index
		resp.Value = strings.TrimSpace(value)
		return resp
	}

	if rest, ok := strings.CutPrefix(text, dpmStatusPrefix); ok {
		if rest == "0" || rest == "1" {
			resp.Kind = ResponseDPMStatus
			resp.Value = rest
		}
		return resp
	}

	return resp
}
