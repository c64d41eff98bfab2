package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const gatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway intents: GUILDS, GUILD_MESSAGES, MESSAGE_CONTENT.
const gatewayIntents = 1 | (1 << 9) | (1 << 15)

// EventHandler receives the inbound events the reverse sync cares
// about. Handlers run on the gateway read loop; they should hand off
// long work themselves.
type EventHandler interface {
	HandleThreadCreate(ctx context.Context, thread Thread)
	HandleThreadUpdate(ctx context.Context, thread Thread)
	HandleThreadDelete(ctx context.Context, threadID string)
	HandleMessageCreate(ctx context.Context, msg Message)
	HandleMessageUpdate(ctx context.Context, msg Message)
	HandleMessageDelete(ctx context.Context, threadID, messageID string)
}

// Gateway maintains the websocket session: identify, heartbeat, and
// event dispatch, reconnecting with a fixed delay on any drop.
type Gateway struct {
	token   string
	handler EventHandler
}

func NewGateway(token string, handler EventHandler) *Gateway {
	return &Gateway{token: token, handler: handler}
}

type gatewayPayload struct {
	Op  int             `json:"op"`
	T   string          `json:"t,omitempty"`
	S   *int64          `json:"s,omitempty"`
	Dat json.RawMessage `json:"d,omitempty"`
}

const (
	opDispatch  = 0
	opHeartbeat = 1
	opIdentify  = 2
	opHello     = 10
	opHeartACK  = 11
)

// Run connects and processes events until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		if err := g.session(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("gateway session ended, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}

func (g *Gateway) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, gatewayURL, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	// First frame must be Hello with the heartbeat interval.
	var hello gatewayPayload
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.Dat, &helloData); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.token,
			"intents": gatewayIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "forumsync",
				"device":  "forumsync",
			},
		},
	}
	if err := conn.WriteJSON(identify); err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	var lastSeq int64
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go g.heartbeatLoop(sessionCtx, conn, time.Duration(helloData.HeartbeatInterval)*time.Millisecond, &lastSeq)

	for {
		var p gatewayPayload
		if err := conn.ReadJSON(&p); err != nil {
			return fmt.Errorf("read event: %w", err)
		}
		if p.S != nil {
			lastSeq = *p.S
		}
		switch p.Op {
		case opDispatch:
			g.dispatch(ctx, p.T, p.Dat)
		case opHeartbeat:
			if err := conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": lastSeq}); err != nil {
				return err
			}
		case opHeartACK:
			// fine
		}
	}
}

func (g *Gateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, lastSeq *int64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": *lastSeq}); err != nil {
				log.Debug().Err(err).Msg("heartbeat write failed")
				return
			}
		}
	}
}

type gatewayChannel struct {
	ID          string   `json:"id"`
	ParentID    string   `json:"parent_id"`
	Name        string   `json:"name"`
	AppliedTags []string `json:"applied_tags"`
	ThreadMeta  *struct {
		Archived bool `json:"archived"`
		Locked   bool `json:"locked"`
	} `json:"thread_metadata"`
}

type gatewayMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
}

func (g *Gateway) dispatch(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case "THREAD_CREATE", "THREAD_UPDATE":
		var ch gatewayChannel
		if err := json.Unmarshal(data, &ch); err != nil {
			log.Debug().Err(err).Str("event", event).Msg("undecodable gateway event")
			return
		}
		t := Thread{ID: ch.ID, ForumID: ch.ParentID, Name: ch.Name, TagIDs: ch.AppliedTags}
		if ch.ThreadMeta != nil {
			t.Archived = ch.ThreadMeta.Archived
			t.Locked = ch.ThreadMeta.Locked
		}
		if event == "THREAD_CREATE" {
			g.handler.HandleThreadCreate(ctx, t)
		} else {
			g.handler.HandleThreadUpdate(ctx, t)
		}
	case "MESSAGE_CREATE", "MESSAGE_UPDATE":
		var m gatewayMessage
		if err := json.Unmarshal(data, &m); err != nil {
			log.Debug().Err(err).Str("event", event).Msg("undecodable gateway event")
			return
		}
		msg := Message{ID: m.ID, ThreadID: m.ChannelID, Content: m.Content, AuthorID: m.Author.ID, Bot: m.Author.Bot}
		if event == "MESSAGE_CREATE" {
			g.handler.HandleMessageCreate(ctx, msg)
		} else {
			g.handler.HandleMessageUpdate(ctx, msg)
		}
	case "THREAD_DELETE":
		var ch struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &ch); err != nil {
			return
		}
		g.handler.HandleThreadDelete(ctx, ch.ID)
	case "MESSAGE_DELETE":
		var m struct {
			ID        string `json:"id"`
			ChannelID string `json:"channel_id"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return
		}
		g.handler.HandleMessageDelete(ctx, m.ChannelID, m.ID)
	}
}
