package wsman

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Fault classes matched by errors.Is against a *Fault.
var (
	// ErrAccessDenied is a fault rejecting the caller's credentials.
	ErrAccessDenied = errors.New("wsman: access denied")

	// ErrOperationTimeout is an expired OperationTimeout on Receive. The
	// command is still running; the caller polls again.
	ErrOperationTimeout = errors.New("wsman: operation timeout")

	// ErrQuotaLimit is a refused shell or operation because a per-user
	// quota (MaxShellsPerUser, MaxConcurrentOperations) is exhausted.
	ErrQuotaLimit = errors.New("wsman: quota limit")
)

// Windows and WinRM error codes carried in WSManFault/@Code.
const (
	codeAccessDenied     = 5          // ERROR_ACCESS_DENIED
	codeLogonFailure     = 1326       // ERROR_LOGON_FAILURE
	codeOperationTimeout = 2150858793 // ERROR_WSMAN_OPERATION_TIMEDOUT
)

// Fault is a WS-Management SOAP fault.
type Fault struct {
	Code      string // SOAP code, e.g. s:Sender
	Subcode   string // WS-Management subcode, e.g. w:TimedOut
	Reason    string
	WSManCode int
	Machine   string
	Message   string
}

// Error implements the error interface.
func (f *Fault) Error() string {
	var parts []string
	for _, p := range []string{f.Code, f.Subcode, strings.TrimSpace(f.Reason)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if f.Reason == "" && f.Message != "" {
		parts = append(parts, f.Message)
	}
	if f.WSManCode != 0 {
		parts = append(parts, fmt.Sprintf("code=%d", f.WSManCode))
	}
	msg := "wsman fault: " + strings.Join(parts, ": ")
	if f.Machine != "" {
		msg += " (" + f.Machine + ")"
	}
	return msg
}

// Is maps the fault onto ErrAccessDenied, ErrOperationTimeout and
// ErrQuotaLimit.
func (f *Fault) Is(target error) bool {
	switch target {
	case ErrAccessDenied:
		return strings.Contains(f.Subcode, "AccessDenied") ||
			f.WSManCode == codeAccessDenied || f.WSManCode == codeLogonFailure
	case ErrOperationTimeout:
		return strings.Contains(f.Subcode, "TimedOut") || f.WSManCode == codeOperationTimeout
	case ErrQuotaLimit:
		return strings.Contains(f.Subcode, "QuotaLimit")
	}
	return false
}

// IsFault reports whether err wraps a *Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// soapFault is the s:Fault element of a reply body.
type soapFault struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode string `xml:"Subcode>Value"`
	} `xml:"Code"`
	Reason string `xml:"Reason>Text"`
	Detail struct {
		Code    int    `xml:"Code,attr"`
		Machine string `xml:"Machine,attr"`
		Message string `xml:"Message"`
	} `xml:"Detail>WSManFault"`
}

func (f *soapFault) fault() *Fault {
	return &Fault{
		Code:      f.Code.Value,
		Subcode:   f.Code.Subcode,
		Reason:    strings.TrimSpace(f.Reason),
		WSManCode: f.Detail.Code,
		Machine:   f.Detail.Machine,
		Message:   strings.TrimSpace(f.Detail.Message),
	}
}

// decode parses a reply. A SOAP fault in the body is returned as *Fault.
func decode(data []byte) (*response, error) {
	var resp response
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if f := resp.Body.Fault; f != nil && f.Code.Value != "" {
		return nil, f.fault()
	}
	return &resp, nil
}
