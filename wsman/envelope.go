package wsman

import (
	"encoding/xml"
	"strings"

	"github.com/google/uuid"
)

// envelope is the SOAP 1.2 frame of one request. Every prefix used by a
// header or body element is declared here.
type envelope struct {
	XMLName xml.Name `xml:"s:Envelope"`
	NsS     string   `xml:"xmlns:s,attr"`
	NsA     string   `xml:"xmlns:a,attr"`
	NsW     string   `xml:"xmlns:w,attr"`
	NsP     string   `xml:"xmlns:p,attr"`
	NsRsp   string   `xml:"xmlns:rsp,attr"`
	Header  header   `xml:"s:Header"`
	Body    struct {
		Payload any
	} `xml:"s:Body"`
}

type header struct {
	Action           string     `xml:"a:Action"`
	To               string     `xml:"a:To"`
	MessageID        string     `xml:"a:MessageID"`
	ReplyTo          string     `xml:"a:ReplyTo>a:Address"`
	ResourceURI      string     `xml:"w:ResourceURI"`
	MaxEnvelopeSize  mustValue  `xml:"w:MaxEnvelopeSize"`
	OperationTimeout string     `xml:"w:OperationTimeout"`
	Locale           locale     `xml:"w:Locale"`
	DataLocale       locale     `xml:"p:DataLocale"`
	SessionID        string     `xml:"p:SessionId"`
	Selectors        *selectorSet `xml:"w:SelectorSet,omitempty"`
	Options          *optionSet   `xml:"w:OptionSet,omitempty"`
}

// A nil set omits the element entirely.
type selectorSet struct {
	Selectors []Selector `xml:"w:Selector"`
}

type optionSet struct {
	Options []option `xml:"w:Option"`
}

type mustValue struct {
	MustUnderstand bool   `xml:"s:mustUnderstand,attr"`
	Value          string `xml:",chardata"`
}

type locale struct {
	MustUnderstand bool   `xml:"s:mustUnderstand,attr"`
	Lang           string `xml:"xml:lang,attr"`
}

type option struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

// request describes one operation. An empty timeout means
// defaultOperationTimeout; a nil payload sends an empty body.
type request struct {
	action      string
	resourceURI string
	timeout     string
	selectors   []Selector
	options     []option
	payload     any
}

// encode frames r for this client's endpoint and session.
func (c *Client) encode(r request) ([]byte, error) {
	timeout := r.timeout
	if timeout == "" {
		timeout = defaultOperationTimeout
	}
	env := envelope{
		NsS:   NsSoap,
		NsA:   NsAddressing,
		NsW:   NsWsman,
		NsP:   NsWsmanMicrosoft,
		NsRsp: NsShell,
		Header: header{
			Action:           r.action,
			To:               c.endpoint,
			MessageID:        newMessageID(),
			ReplyTo:          AddressAnonymous,
			ResourceURI:      r.resourceURI,
			MaxEnvelopeSize:  mustValue{MustUnderstand: true, Value: defaultMaxEnvelopeSize},
			OperationTimeout: timeout,
			Locale:           locale{Lang: defaultLocale},
			DataLocale:       locale{Lang: defaultLocale},
			SessionID:        c.sessionID,
		},
	}
	if len(r.selectors) > 0 {
		env.Header.Selectors = &selectorSet{Selectors: r.selectors}
	}
	if len(r.options) > 0 {
		env.Header.Options = &optionSet{Options: r.options}
	}
	env.Body.Payload = r.payload
	return xml.Marshal(env)
}

func newMessageID() string {
	return "uuid:" + strings.ToUpper(uuid.New().String())
}

// Request bodies. The rsp prefix is declared on the envelope.

type shellBody struct {
	XMLName       xml.Name `xml:"rsp:Shell"`
	IdleTimeOut   string   `xml:"rsp:IdleTimeOut,omitempty"`
	InputStreams  string   `xml:"rsp:InputStreams"`
	OutputStreams string   `xml:"rsp:OutputStreams"`
}

type commandBody struct {
	XMLName   xml.Name `xml:"rsp:CommandLine"`
	Command   string   `xml:"rsp:Command"`
	Arguments []string `xml:"rsp:Arguments,omitempty"`
}

type receiveBody struct {
	XMLName xml.Name `xml:"rsp:Receive"`
	Desired struct {
		CommandID string `xml:"CommandId,attr"`
		Streams   string `xml:",chardata"`
	} `xml:"rsp:DesiredStream"`
}

type signalBody struct {
	XMLName   xml.Name `xml:"rsp:Signal"`
	CommandID string   `xml:"CommandId,attr"`
	Code      string   `xml:"rsp:Code"`
}
