// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/partyline/lib/testutil"
)

const (
	testDomain    = "test.example"
	testMUCDomain = "muc.test.example"
)

// fakeServer is an in-process XMPP-over-WebSocket server speaking just
// enough of the protocol for Conn: stream opening, SASL PLAIN, bind,
// session, pings and MUC self-presence echoes.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	rejectAuth  bool
	stall       bool
	echoRooms   bool
	answerPings bool
	logins      []string

	connected chan *serverSession
}

type serverSession struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	account  string
	token    string
	resource string
	received chan *stanza
}

func (s *serverSession) send(t *testing.T, frame string) {
	t.Helper()
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Errorf("server write: %v", err)
	}
}

// reply writes from the server's own goroutine, which may outlive the
// test, so failures are ignored.
func (s *serverSession) reply(frame string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (s *serverSession) address() string {
	return s.account + "@" + testDomain + "/" + s.resource
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fake := &fakeServer{
		t:           t,
		echoRooms:   true,
		answerPings: true,
		connected:   make(chan *serverSession, 8),
	}
	fake.server = httptest.NewServer(http.HandlerFunc(fake.serve))
	t.Cleanup(fake.server.Close)
	return fake
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeServer) configure(change func(*fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	change(f)
}

func (f *fakeServer) flag(get func(*fakeServer) bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return get(f)
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"xmpp"},
	CheckOrigin:  func(*http.Request) bool { return true },
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer ws.Close()
	session := &serverSession{ws: ws, received: make(chan *stanza, 64)}
	if f.flag(func(f *fakeServer) bool { return f.stall }) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
	if !f.handshake(session) {
		return
	}
	f.connected <- session

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s, err := decodeStanza(data)
		if err != nil {
			f.t.Errorf("server decode %q: %v", data, err)
			continue
		}
		f.respond(session, s)
		session.received <- s
		if s.name() == "close" {
			return
		}
	}
}

func (f *fakeServer) read(session *serverSession) ([]byte, *stanza, bool) {
	_, data, err := session.ws.ReadMessage()
	if err != nil {
		return nil, nil, false
	}
	s, err := decodeStanza(data)
	if err != nil {
		f.t.Errorf("server decode %q: %v", data, err)
		return nil, nil, false
	}
	return data, s, true
}

func (f *fakeServer) openStream(session *serverSession, features string) bool {
	if _, s, ok := f.read(session); !ok || s.name() != "open" {
		return false
	}
	session.send(f.t, `<open xmlns="`+nsFraming+`" from="`+testDomain+`" id="stream" version="1.0"/>`)
	session.send(f.t, `<stream:features xmlns:stream="`+nsStreams+`">`+features+`</stream:features>`)
	return true
}

func (f *fakeServer) handshake(session *serverSession) bool {
	if !f.openStream(session, `<mechanisms xmlns="`+nsSASL+`"><mechanism>PLAIN</mechanism></mechanisms>`) {
		return false
	}

	data, s, ok := f.read(session)
	if !ok || s.name() != "auth" {
		return false
	}
	var auth struct {
		Text string `xml:",chardata"`
	}
	if err := xml.Unmarshal(data, &auth); err != nil {
		f.t.Errorf("decoding auth: %v", err)
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(auth.Text)
	if err != nil {
		f.t.Errorf("decoding PLAIN credentials: %v", err)
		return false
	}
	parts := strings.Split(string(decoded), "\x00")
	if len(parts) != 3 {
		f.t.Errorf("PLAIN credentials have %d parts", len(parts))
		return false
	}
	session.account, session.token = parts[1], parts[2]
	f.mu.Lock()
	f.logins = append(f.logins, session.account+":"+session.token)
	reject := f.rejectAuth
	f.mu.Unlock()
	if reject {
		session.send(f.t, `<failure xmlns="`+nsSASL+`"><not-authorized/></failure>`)
		return false
	}
	session.send(f.t, `<success xmlns="`+nsSASL+`"/>`)

	if !f.openStream(session,
		`<bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"/><session xmlns="urn:ietf:params:xml:ns:xmpp-session"/>`) {
		return false
	}

	data, s, ok = f.read(session)
	if !ok || s.name() != "iq" {
		return false
	}
	var bind struct {
		Bind struct {
			Resource string `xml:"resource"`
		} `xml:"bind"`
	}
	if err := xml.Unmarshal(data, &bind); err != nil {
		f.t.Errorf("decoding bind: %v", err)
		return false
	}
	session.resource = bind.Bind.Resource
	session.send(f.t, fmt.Sprintf(`<iq type="result" id="%s"><bind xmlns="urn:ietf:params:xml:ns:xmpp-bind"><jid>%s</jid></bind></iq>`,
		s.ID, session.address()))

	if _, s, ok = f.read(session); !ok || s.name() != "iq" {
		return false
	}
	session.send(f.t, fmt.Sprintf(`<iq type="result" id="%s"/>`, s.ID))
	return true
}

func (f *fakeServer) respond(session *serverSession, s *stanza) {
	switch {
	case s.name() == "presence" && strings.Contains(s.To, "@"+testMUCDomain+"/") && s.Type == "":
		if !f.flag(func(f *fakeServer) bool { return f.echoRooms }) {
			return
		}
		session.reply(fmt.Sprintf(
			`<presence from="%s" to="%s"><x xmlns="http://jabber.org/protocol/muc#user"><item role="participant"/><status code="110"/></x></presence>`,
			s.To, session.address()))
	case s.name() == "iq" && s.Type == "get" && s.Ping != nil:
		if !f.flag(func(f *fakeServer) bool { return f.answerPings }) {
			return
		}
		session.reply(fmt.Sprintf(`<iq type="result" id="%s" from="%s"/>`, s.ID, testDomain))
	}
}

// receiveUntil reads the session's received stanzas until match
// accepts one, failing the test on timeout.
func receiveUntil(t *testing.T, session *serverSession, match func(*stanza) bool) *stanza {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatal("timed out waiting for a matching stanza")
		}
		s := testutil.RequireReceive(t, session.received, remaining, "waiting for stanza")
		if match(s) {
			return s
		}
	}
}
