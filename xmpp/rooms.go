// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bureau-foundation/partyline/platform"
)

// roomJoin is a join waiting for the room's self-presence echo.
type roomJoin struct {
	done chan struct{}
	err  error
}

// Status is the presence the local client broadcasts.
type Status struct {
	// Text is the free-form status line.
	Text string
	// Show is the availability ("", "away", "chat", "dnd", "xa").
	Show       string
	IsPlaying  bool
	IsJoinable bool
	// Properties are the extra status properties, such as the party
	// join info.
	Properties map[string]any
}

func (s Status) presence() (*outPresence, error) {
	properties := s.Properties
	if properties == nil {
		properties = map[string]any{}
	}
	document, err := json.Marshal(statusDocument{
		Status:      s.Text,
		IsPlaying:   s.IsPlaying,
		IsJoinable:  s.IsJoinable,
		ProductName: "Fortnite",
		Properties:  properties,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding status: %w", err)
	}
	return &outPresence{Show: s.Show, Status: string(document)}, nil
}

// roomAddress returns the bare JID of room. A room given as a bare
// local name is placed in the MUC domain.
func (c *Conn) roomAddress(room string) string {
	if strings.Contains(room, "@") {
		return room
	}
	return room + "@" + c.config.MUCDomain
}

// JoinRoom joins a group room and waits, bounded by RoomJoinTimeout,
// for the room to echo the local occupant's presence. A joined room is
// tracked and rejoined after every reconnect until LeaveRoom.
//
// While the connection is reconnecting, or when the echo times out, the
// room stays tracked and the error is still returned: the next
// reconnect joins it. A refused or abandoned join is not tracked.
func (c *Conn) JoinRoom(ctx context.Context, room string) error {
	address := c.roomAddress(room)

	// Tracking and reading the session happen under one lock, so a
	// room tracked before a reconnect attaches its session is in the
	// restore snapshot, and one tracked after is joined here.
	c.mu.Lock()
	if c.stop == nil {
		c.mu.Unlock()
		return fmt.Errorf("xmpp: joining %s: %w", room, ErrNotConnected)
	}
	_, alreadyTracked := c.rooms[address]
	c.rooms[address] = struct{}{}
	sess := c.session
	c.mu.Unlock()

	err := ErrNotConnected
	if sess != nil {
		err = c.joinRoom(ctx, sess, address)
	}
	if err != nil {
		if !alreadyTracked && !rejoinable(err) {
			c.mu.Lock()
			delete(c.rooms, address)
			c.mu.Unlock()
		}
		return fmt.Errorf("xmpp: joining %s: %w", room, err)
	}
	c.logger.Info("joined room", "room", address)
	return nil
}

// rejoinable reports whether a failed join stays tracked for the next
// reconnect.
func rejoinable(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, platform.ErrEventTimeout)
}

// joinRoom sends the join presence on sess and waits for the echo. A
// join already waiting on the same room is shared rather than resent.
func (c *Conn) joinRoom(ctx context.Context, sess *session, address string) error {
	c.mu.Lock()
	join, pending := c.roomJoins[address]
	if !pending {
		join = &roomJoin{done: make(chan struct{})}
		c.roomJoins[address] = join
	}
	presence := outPresence{To: address + "/" + sess.nick(), MUC: &mucJoin{}}
	if c.presence != nil {
		presence.Show, presence.Status = c.presence.Show, c.presence.Status
	}
	c.mu.Unlock()

	if !pending {
		data, err := encode(presence)
		if err == nil {
			err = sess.write(data)
		}
		if err != nil {
			c.abandonJoin(address, join)
			return err
		}
	}

	timer := c.clock.NewTimer(c.config.RoomJoinTimeout)
	defer timer.Stop()
	select {
	case <-join.done:
		return join.err
	case <-timer.C:
		c.abandonJoin(address, join)
		return &platform.TimeoutError{Operation: "room join echo", Timeout: c.config.RoomJoinTimeout}
	case <-ctx.Done():
		c.abandonJoin(address, join)
		return ctx.Err()
	}
}

func (c *Conn) abandonJoin(address string, join *roomJoin) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomJoins[address] == join {
		delete(c.roomJoins, address)
	}
}

// LeaveRoom stops tracking room and, when connected, sends unavailable
// presence to it. Leaving a room that was never joined is a no-op.
func (c *Conn) LeaveRoom(ctx context.Context, room string) error {
	address := c.roomAddress(room)
	c.mu.Lock()
	_, tracked := c.rooms[address]
	delete(c.rooms, address)
	c.mu.Unlock()
	if !tracked {
		return nil
	}

	sess, err := c.current()
	if err != nil {
		// Nothing to rejoin, and the server drops the occupant with
		// the stream.
		return nil
	}
	data, err := encode(outPresence{To: address + "/" + sess.nick(), Type: "unavailable"})
	if err == nil {
		err = sess.write(data)
	}
	if err != nil {
		return fmt.Errorf("xmpp: leaving %s: %w", room, err)
	}
	c.logger.Info("left room", "room", address)
	return nil
}

// SendPresence broadcasts status and remembers it for re-broadcast
// after a reconnect. While disconnected the status is remembered and
// ErrNotConnected returned.
func (c *Conn) SendPresence(ctx context.Context, status Status) error {
	presence, err := status.presence()
	if err != nil {
		return fmt.Errorf("xmpp: %w", err)
	}
	c.mu.Lock()
	c.presence = presence
	c.mu.Unlock()

	sess, err := c.current()
	if err != nil {
		return fmt.Errorf("xmpp: sending presence: %w", err)
	}
	data, err := encode(presence)
	if err == nil {
		err = sess.write(data)
	}
	if err != nil {
		return fmt.Errorf("xmpp: sending presence: %w", err)
	}
	return nil
}

// SendMessage sends a direct chat message to accountID.
func (c *Conn) SendMessage(ctx context.Context, accountID, body string) error {
	return c.sendMessage(outMessage{
		ID:   c.nextID("msg"),
		To:   accountID + "@" + c.config.Domain,
		Type: "chat",
		Body: body,
	})
}

// SendGroupMessage sends body to a joined room.
func (c *Conn) SendGroupMessage(ctx context.Context, room, body string) error {
	address := c.roomAddress(room)
	c.mu.Lock()
	_, tracked := c.rooms[address]
	c.mu.Unlock()
	if !tracked {
		return fmt.Errorf("xmpp: sending to %s: room not joined", room)
	}
	return c.sendMessage(outMessage{
		ID:   c.nextID("msg"),
		To:   address,
		Type: "groupchat",
		Body: body,
	})
}

func (c *Conn) sendMessage(message outMessage) error {
	sess, err := c.current()
	if err != nil {
		return fmt.Errorf("xmpp: sending message to %s: %w", message.To, err)
	}
	data, err := encode(message)
	if err == nil {
		err = sess.write(data)
	}
	if err != nil {
		return fmt.Errorf("xmpp: sending message to %s: %w", message.To, err)
	}
	return nil
}
