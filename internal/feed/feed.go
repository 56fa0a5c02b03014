// Package feed streams market midpoints over a websocket and republishes
// them as price ticks on the event bus.
package feed

import (
	"context"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"polyagent/internal/core"
	"polyagent/internal/events"
)

// message is the wire format of one midpoint update.
type message struct {
	MarketID string  `json:"market_id"`
	Yes      float64 `json:"yes"`
	No       float64 `json:"no"`
	TS       int64   `json:"ts"`
}

// Feed maintains a websocket subscription with exponential reconnect. Ticks
// flow one way, feed to bus; the engine never blocks on the feed.
type Feed struct {
	url string
	bus *events.Bus

	dial func(ctx context.Context, url string) (*websocket.Conn, error)
}

// New creates a feed for the given stream URL.
func New(url string, bus *events.Bus) *Feed {
	return &Feed{
		url: url,
		bus: bus,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Run connects and pumps ticks until the context is cancelled. Connection
// loss triggers an exponential-backoff reconnect; the loop only exits on
// context cancellation.
func (f *Feed) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := f.dial(ctx, f.url)
		if err != nil {
			wait := bo.NextBackOff()
			log.Printf("feed: dial %s failed, retrying in %v: %v", f.url, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		log.Printf("feed: connected to %s", f.url)
		bo.Reset()
		f.pump(ctx, conn)
		conn.Close()
	}
}

// pump reads messages until the connection breaks or the context ends.
func (f *Feed) pump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close() // unblocks ReadMessage
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("feed: read error, reconnecting: %v", err)
			}
			return
		}
		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("feed: malformed message dropped: %v", err)
			continue
		}
		if msg.MarketID == "" {
			continue
		}
		at := time.Now()
		if msg.TS > 0 {
			at = time.UnixMilli(msg.TS)
		}
		f.bus.Publish(events.EventPriceTick, core.PriceTick{
			MarketID: msg.MarketID,
			Yes:      msg.Yes,
			No:       msg.No,
			At:       at,
		})
	}
}
