// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	nsFraming = "urn:ietf:params:xml:ns:xmpp-framing"
	nsStreams = "http://etherx.jabber.org/streams"
	nsSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
)

// mucSelfPresence is the MUC status code marking a room presence as
// the receiving occupant's own.
const mucSelfPresence = "110"

// stanza is one inbound WebSocket frame. RFC 7395 puts exactly one
// complete element in each frame, so every frame decodes on its own.
// Only the children the platform sends are mapped.
type stanza struct {
	XMLName xml.Name
	ID      string `xml:"id,attr"`
	Type    string `xml:"type,attr"`
	From    string `xml:"from,attr"`
	To      string `xml:"to,attr"`

	Body   string `xml:"body"`
	Status string `xml:"status"`
	Show   string `xml:"show"`

	Mechanisms []string     `xml:"mechanisms>mechanism"`
	Bind       *bindElement `xml:"bind"`
	Session    *struct{}    `xml:"session"`
	Ping       *struct{}    `xml:"ping"`
	MUCUser    *mucUser     `xml:"http://jabber.org/protocol/muc#user x"`
	Delay      *delay       `xml:"urn:xmpp:delay delay"`
	Error      *stanzaError `xml:"error"`
}

type bindElement struct {
	JID string `xml:"jid"`
}

type mucUser struct {
	Statuses []struct {
		Code string `xml:"code,attr"`
	} `xml:"status"`
	Item struct {
		JID         string `xml:"jid,attr"`
		Affiliation string `xml:"affiliation,attr"`
		Role        string `xml:"role,attr"`
	} `xml:"item"`
}

func (m *mucUser) hasStatus(code string) bool {
	if m == nil {
		return false
	}
	for _, status := range m.Statuses {
		if status.Code == code {
			return true
		}
	}
	return false
}

type delay struct {
	Stamp string `xml:"stamp,attr"`
}

type stanzaError struct {
	Type  string `xml:"type,attr"`
	Text  string `xml:"text"`
	Inner string `xml:",innerxml"`
}

func (e *stanzaError) String() string {
	if e == nil {
		return ""
	}
	if e.Text != "" {
		return e.Text
	}
	return strings.TrimSpace(e.Inner)
}

func decodeStanza(data []byte) (*stanza, error) {
	var s stanza
	if err := xml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding stanza: %w", err)
	}
	return &s, nil
}

// name returns the stanza's local element name.
func (s *stanza) name() string { return s.XMLName.Local }

// jid is a parsed XMPP address local@domain/resource.
type jid struct {
	local    string
	domain   string
	resource string
}

func parseJID(address string) jid {
	var parsed jid
	bare := address
	if slash := strings.IndexByte(address, '/'); slash >= 0 {
		bare, parsed.resource = address[:slash], address[slash+1:]
	}
	if at := strings.IndexByte(bare, '@'); at >= 0 {
		parsed.local, parsed.domain = bare[:at], bare[at+1:]
	} else {
		parsed.domain = bare
	}
	return parsed
}

func (j jid) bare() string {
	if j.local == "" {
		return j.domain
	}
	return j.local + "@" + j.domain
}

func escape(value string) string {
	var builder strings.Builder
	xml.EscapeText(&builder, []byte(value))
	return builder.String()
}

func openFrame(domain string) []byte {
	return []byte(`<open xmlns="` + nsFraming + `" to="` + escape(domain) + `" version="1.0"/>`)
}

func closeFrame() []byte {
	return []byte(`<close xmlns="` + nsFraming + `"/>`)
}

// authFrame is a SASL PLAIN initial response with an empty
// authorization identity.
func authFrame(accountID, token string) []byte {
	credentials := base64.StdEncoding.EncodeToString([]byte("\x00" + accountID + "\x00" + token))
	return []byte(`<auth xmlns="` + nsSASL + `" mechanism="PLAIN">` + credentials + `</auth>`)
}

type outIQ struct {
	XMLName xml.Name        `xml:"iq"`
	ID      string          `xml:"id,attr"`
	Type    string          `xml:"type,attr"`
	To      string          `xml:"to,attr,omitempty"`
	Bind    *bindRequest    `xml:",omitempty"`
	Session *sessionRequest `xml:",omitempty"`
	Ping    *pingRequest    `xml:",omitempty"`
}

type bindRequest struct {
	XMLName  xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	Resource string   `xml:"resource"`
}

type sessionRequest struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-session session"`
}

type pingRequest struct {
	XMLName xml.Name `xml:"urn:xmpp:ping ping"`
}

type outPresence struct {
	XMLName xml.Name `xml:"presence"`
	ID      string   `xml:"id,attr,omitempty"`
	To      string   `xml:"to,attr,omitempty"`
	Type    string   `xml:"type,attr,omitempty"`
	Show    string   `xml:"show,omitempty"`
	Status  string   `xml:"status,omitempty"`
	MUC     *mucJoin `xml:",omitempty"`
}

type mucJoin struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/muc x"`
	History struct {
		MaxStanzas int `xml:"maxstanzas,attr"`
	} `xml:"history"`
}

type outMessage struct {
	XMLName xml.Name `xml:"message"`
	ID      string   `xml:"id,attr,omitempty"`
	To      string   `xml:"to,attr"`
	Type    string   `xml:"type,attr"`
	Body    string   `xml:"body"`
}

func encode(element any) ([]byte, error) {
	data, err := xml.Marshal(element)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", element, err)
	}
	return data, nil
}
