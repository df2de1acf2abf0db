package feed

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/metrics"
	"github.com/sirupsen/logrus"
)

const (
	// Connection settings
	initialReconnectDelay = 5 * time.Second
	maxReconnectDelay     = 5 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	connectionTimeout     = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// Sniffer is a capture bridge endpoint.
type Sniffer struct {
	Name  string `mapstructure:"name"`
	URL   string `mapstructure:"url"`
	Iface string `mapstructure:"iface"` // optional interface filter sent on subscribe
}

// Client is a websocket client for one sniffer with automatic reconnection.
type Client struct {
	sniffer Sniffer
	frames  chan<- Frame
	done    chan struct{}
	wg      sync.WaitGroup
	log     *logrus.Entry

	initialDelay time.Duration

	// Stats
	messagesReceived atomic.Uint64
	framesDecoded    atomic.Uint64
	errors           atomic.Uint64
	reconnects       atomic.Uint64
	dropped          atomic.Uint64

	// State
	running   atomic.Bool
	connected atomic.Bool
}

// NewClient creates a client for a sniffer.
func NewClient(sniffer Sniffer, frames chan<- Frame) *Client {
	return &Client{
		sniffer:      sniffer,
		frames:       frames,
		done:         make(chan struct{}),
		log:          logrus.WithFields(logrus.Fields{"component": "feed", "sniffer": sniffer.Name}),
		initialDelay: initialReconnectDelay,
	}
}

// Start begins the websocket connection in a goroutine.
func (c *Client) Start() {
	if c.running.Swap(true) {
		c.log.Warn("Client already running")
		return
	}

	c.wg.Add(1)
	go c.runLoop()
	c.log.Info("Client started")
}

// Stop gracefully shuts down the client.
func (c *Client) Stop() {
	if !c.running.Swap(false) {
		return
	}
	close(c.done)
	c.wg.Wait()
	c.log.Info("Client stopped")
}

// ClientStats are the counters of one client.
type ClientStats struct {
	Sniffer          string `json:"sniffer"`
	Connected        bool   `json:"connected"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesDecoded    uint64 `json:"frames_decoded"`
	Errors           uint64 `json:"errors"`
	Reconnects       uint64 `json:"reconnects"`
	Dropped          uint64 `json:"dropped"`
}

// Stats returns current statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Sniffer:          c.sniffer.Name,
		Connected:        c.connected.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		FramesDecoded:    c.framesDecoded.Load(),
		Errors:           c.errors.Load(),
		Reconnects:       c.reconnects.Load(),
		Dropped:          c.dropped.Load(),
	}
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	reconnectDelay := c.initialDelay

	for c.running.Load() {
		err := c.connectAndStream()
		if err != nil {
			c.errors.Add(1)
			c.reconnects.Add(1)
			c.log.WithError(err).Warnf("Connection error, reconnecting in %v", reconnectDelay)
		}

		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
			// Exponential backoff
			reconnectDelay = time.Duration(float64(reconnectDelay) * reconnectBackoff)
			if reconnectDelay > maxReconnectDelay {
				reconnectDelay = maxReconnectDelay
			}
		}
	}
}

func (c *Client) connectAndStream() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: connectionTimeout,
	}

	c.log.WithField("url", c.sniffer.URL).Debug("Connecting to sniffer")
	conn, _, err := dialer.Dial(c.sniffer.URL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	subscribeMsg := map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{
			"type":  packetMessageType,
			"iface": c.sniffer.Iface,
		},
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeMsg); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info("Connected and subscribed")

	pingDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-c.done:
				// Close connection to unblock ReadMessage
				conn.Close()
				return
			}
		}
	}()
	defer close(pingDone)

	for c.running.Load() {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if !c.running.Load() {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if messageType != websocket.TextMessage {
			continue
		}
		c.messagesReceived.Add(1)
		c.handleMessage(message)
	}

	return nil
}

func (c *Client) handleMessage(message []byte) {
	frame, err := ParseMessage(message, c.sniffer.Name)
	if err != nil {
		outcome := metrics.FrameInvalid
		if errors.Is(err, ErrNotRPL) {
			outcome = metrics.FrameSkipped
		}
		metrics.FeedFramesTotal.WithLabelValues(c.sniffer.Name, outcome).Inc()
		if c.messagesReceived.Load() <= 10 {
			c.log.WithError(err).Debug("Parse error")
		}
		return
	}
	if frame == nil {
		return
	}

	c.framesDecoded.Add(1)
	metrics.FeedFramesTotal.WithLabelValues(c.sniffer.Name, metrics.FrameDecoded).Inc()

	// Non-blocking send to channel
	select {
	case c.frames <- *frame:
	default:
		if c.dropped.Add(1)%1000 == 1 {
			c.log.Warn("Frame channel full, dropping frame")
		}
	}
}

// MultiClient fans in the frames of several sniffers.
type MultiClient struct {
	clients []*Client
	frames  chan Frame
	running atomic.Bool
}

// NewMultiClient creates a client that connects to every sniffer.
func NewMultiClient(sniffers []Sniffer, bufferSize int) *MultiClient {
	frames := make(chan Frame, bufferSize)
	clients := make([]*Client, len(sniffers))

	for i, s := range sniffers {
		clients[i] = NewClient(s, frames)
	}

	return &MultiClient{
		clients: clients,
		frames:  frames,
	}
}

// Frames returns the channel of decoded frames. It is closed by Stop.
func (mc *MultiClient) Frames() <-chan Frame {
	return mc.frames
}

// Start begins all sniffer clients.
func (mc *MultiClient) Start() {
	if mc.running.Swap(true) {
		return
	}
	for _, client := range mc.clients {
		client.Start()
	}
	logrus.WithField("component", "feed").Infof("MultiClient started with %d sniffers", len(mc.clients))
}

// Stop gracefully shuts down all clients.
func (mc *MultiClient) Stop() {
	if !mc.running.Swap(false) {
		return
	}
	for _, client := range mc.clients {
		client.Stop()
	}
	close(mc.frames)
	logrus.WithField("component", "feed").Info("MultiClient stopped")
}

// MultiStats aggregates the statistics of all clients.
type MultiStats struct {
	Running         bool          `json:"running"`
	Sniffers        []ClientStats `json:"sniffers"`
	TotalMessages   uint64        `json:"total_messages"`
	TotalFrames     uint64        `json:"total_frames"`
	TotalErrors     uint64        `json:"total_errors"`
	TotalReconnects uint64        `json:"total_reconnects"`
	ChannelLen      int           `json:"channel_len"`
	ChannelCap      int           `json:"channel_cap"`
}

// Stats returns aggregated statistics from all clients.
func (mc *MultiClient) Stats() MultiStats {
	out := MultiStats{
		Running:    mc.running.Load(),
		Sniffers:   make([]ClientStats, len(mc.clients)),
		ChannelLen: len(mc.frames),
		ChannelCap: cap(mc.frames),
	}
	for i, client := range mc.clients {
		s := client.Stats()
		out.Sniffers[i] = s
		out.TotalMessages += s.MessagesReceived
		out.TotalFrames += s.FramesDecoded
		out.TotalErrors += s.Errors
		out.TotalReconnects += s.Reconnects
	}
	return out
}
