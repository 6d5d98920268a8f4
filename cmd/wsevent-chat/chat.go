package main

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bjaus/wsevent"
)

// hub tracks connected clients for broadcasts. Client names are guarded by
// mu because other sessions read them.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func newHub() *hub {
	return &hub{clients: make(map[string]*client)}
}

func (h *hub) add(c *client, name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.name = name
	h.clients[c.session.ID()] = c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.session.ID())
}

func (h *hub) nameOf(c *client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.name
}

// rename changes the name of c unless another client holds it.
func (h *hub) rename(c *client, name string) (previous string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, other := range h.clients {
		if other != c && other.name == name {
			return "", wsevent.PublicErrorf("name %q is taken", name)
		}
	}
	previous, c.name = c.name, name
	return previous, nil
}

func (h *hub) find(name string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (h *hub) names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.clients))
	for _, c := range h.clients {
		names = append(names, c.name)
	}
	slices.Sort(names)
	return names
}

// broadcast pushes an event to every client except skip.
func (h *hub) broadcast(ctx context.Context, event string, payload any, skip *client) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c != skip {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.session.Send(ctx, event, payload); err != nil {
			c.session.Logger().Debug("broadcast failed", zap.String("event", event), zap.Error(err))
		}
	}
}

// client is the per-connection state.
type client struct {
	hub     *hub
	session *wsevent.Session
	name    string // guarded by hub.mu
}

func (c *client) OnConnect(ctx context.Context, s *wsevent.Session) error {
	c.session = s
	name := s.ID()
	if len(name) > 8 {
		name = name[:8]
	}
	name = "guest-" + name
	c.hub.add(c, name)
	c.hub.broadcast(ctx, "joined", map[string]string{"name": name}, c)
	return nil
}

func (c *client) OnDisconnect(ctx context.Context, _ *wsevent.Session, _ int) {
	name := c.hub.nameOf(c)
	c.hub.remove(c)
	c.hub.broadcast(ctx, "left", map[string]string{"name": name}, nil)
}

type messageIn struct {
	Message string `json:"message"`
}

// onMessage relays a chat line to everyone else and echoes it back.
func onMessage(ctx context.Context, c *client, in messageIn) (string, error) {
	c.hub.broadcast(ctx, "message", map[string]string{"from": c.hub.nameOf(c), "message": in.Message}, c)
	return in.Message, nil
}

type whisperIn struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type whisperOut struct {
	To string `json:"to"`
}

func onWhisper(ctx context.Context, c *client, in whisperIn) (whisperOut, error) {
	target := c.hub.find(in.To)
	if target == nil {
		return whisperOut{}, wsevent.PublicErrorf("no member named %q", in.To)
	}
	err := target.session.Send(ctx, "whisper", map[string]string{"from": c.hub.nameOf(c), "message": in.Message})
	if err != nil {
		return whisperOut{}, err
	}
	return whisperOut{To: in.To}, nil
}

type renameIn struct {
	Name string `json:"name"`
}

type renameOut struct {
	Name     string `json:"name"`
	Previous string `json:"previous"`
}

func onRename(ctx context.Context, c *client, in renameIn) (*renameOut, error) {
	if in.Name == "" {
		return nil, wsevent.PublicErrorf("name must not be empty")
	}
	previous, err := c.hub.rename(c, in.Name)
	if err != nil {
		return nil, err
	}
	out := &renameOut{Name: in.Name, Previous: previous}
	c.hub.broadcast(ctx, "renamed", out, c)
	return out, nil
}

type membersOut struct {
	Members []string `json:"members"`
}

func handleMembers(_ context.Context, c *client, _ struct{}) (membersOut, error) {
	return membersOut{Members: c.hub.names()}, nil
}

var pongSchema = wsevent.MustSchema("pong", wsevent.Required("time", wsevent.KindString))

func pingPong(context.Context, *client, struct{}) (map[string]any, error) {
	return map[string]any{"time": time.Now().UTC().Format(time.RFC3339Nano)}, nil
}

func onGoodbye(_ context.Context, c *client, _ struct{}) error {
	return c.session.Close(wsevent.CloseNormal, "goodbye")
}

// newRouter declares the chat protocol.
func newRouter(opts ...wsevent.Option) (*wsevent.Router[*client], error) {
	r := wsevent.New[*client](opts...)
	for _, err := range []error{
		wsevent.RegisterFunc(r, onMessage),
		wsevent.RegisterFunc(r, onWhisper),
		wsevent.RegisterFunc(r, onRename),
		wsevent.RegisterFunc(r, handleMembers),
		wsevent.RegisterFunc(r, pingPong, wsevent.Event("ping"), wsevent.Response(pongSchema)),
		wsevent.RegisterProcFunc(r, onGoodbye),
	} {
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}
