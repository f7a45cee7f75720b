package wsman

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EndpointReference identifies a shell created on the server.
type EndpointReference struct {
	Address     string
	ResourceURI string
	Selectors   []Selector
}

// Selector is a WS-Management selector, e.g. ShellId.
type Selector struct {
	Name  string `xml:"Name,attr"`
	Value string `xml:",chardata"`
}

// ShellID returns the value of the ShellId selector, if any.
func (e *EndpointReference) ShellID() string {
	for _, sel := range e.Selectors {
		if sel.Name == "ShellId" {
			return sel.Value
		}
	}
	return ""
}

// ReceiveResult is the output collected by one Receive.
type ReceiveResult struct {
	Stdout       []byte
	Stderr       []byte
	CommandState string
	ExitCode     int
	Done         bool
}

// response holds every part of a reply body this client reads. Elements
// absent from a given reply stay zero.
type response struct {
	Body struct {
		Fault           *soapFault `xml:"Fault"`
		ResourceCreated struct {
			Address     string     `xml:"Address"`
			ResourceURI string     `xml:"ReferenceParameters>ResourceURI"`
			Selectors   []Selector `xml:"ReferenceParameters>SelectorSet>Selector"`
		} `xml:"ResourceCreated"`
		ShellID   string `xml:"Shell>ShellId"`
		CommandID string `xml:"CommandResponse>CommandId"`
		Receive   struct {
			Streams []struct {
				Name string `xml:"Name,attr"`
				Data string `xml:",chardata"`
			} `xml:"Stream"`
			State struct {
				State    string `xml:"State,attr"`
				ExitCode *int   `xml:"ExitCode"`
			} `xml:"CommandState"`
		} `xml:"ReceiveResponse"`
	} `xml:"Body"`
}

func (r *response) endpoint() *EndpointReference {
	rc := r.Body.ResourceCreated
	epr := &EndpointReference{
		Address:     rc.Address,
		ResourceURI: rc.ResourceURI,
		Selectors:   rc.Selectors,
	}
	if epr.ResourceURI == "" {
		epr.ResourceURI = ResourceURIWinRS
	}
	// Some WinRM builds only echo the shell ID in the body.
	if epr.ShellID() == "" && r.Body.ShellID != "" {
		epr.Selectors = append(epr.Selectors, Selector{Name: "ShellId", Value: r.Body.ShellID})
	}
	return epr
}

func (r *response) received() (*ReceiveResult, error) {
	res := &ReceiveResult{}
	for _, s := range r.Body.Receive.Streams {
		data := strings.TrimSpace(s.Data)
		if data == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s stream: %w", s.Name, err)
		}
		switch s.Name {
		case "stdout":
			res.Stdout = append(res.Stdout, decoded...)
		case "stderr":
			res.Stderr = append(res.Stderr, decoded...)
		}
	}

	state := r.Body.Receive.State
	res.CommandState = state.State
	if state.ExitCode != nil {
		res.ExitCode = *state.ExitCode
	}
	res.Done = state.State == CommandStateDone || state.ExitCode != nil
	return res, nil
}
