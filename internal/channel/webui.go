package channel

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/stellarlinkco/payqr/internal/bus"
	"github.com/stellarlinkco/payqr/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName  = "webui"
	webUIWriteTimeout = 5 * time.Second
)

type wsMessage struct {
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Images  []string `json:"images,omitempty"` // data URLs
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

func (c *wsClient) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webUIWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

type WebUIChannel struct {
	BaseChannel
	addr    string
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		addr:        fmt.Sprintf("%s:%d", gwCfg.Host, port),
	}, nil
}

func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}
	w.server = &http.Server{Addr: w.addr, Handler: handler}

	go func() {
		logrus.Infof("[webui] listening on %s", w.addr)
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("[webui] server error: %v", err)
		}
	}()
	return nil
}

func (w *WebUIChannel) handleWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logrus.Warnf("[webui] websocket accept error: %v", err)
		return
	}

	client := &wsClient{conn: conn, id: fmt.Sprintf("webui-%d", w.nextID.Add(1))}
	w.clients.Store(client.id, client)
	logrus.Infof("[webui] client connected: %s", client.id)
	defer func() {
		w.clients.Delete(client.id)
		conn.CloseNow()
		logrus.Infof("[webui] client disconnected: %s", client.id)
	}()

	// tell the page which conversation it is
	if hello, err := json.Marshal(wsMessage{Type: "hello", Content: client.id}); err == nil {
		_ = client.write(hello)
	}

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "message" || msg.Content == "" {
			continue
		}
		if !w.IsAllowed(client.id) {
			logrus.Warnf("[webui] rejected message from %s", client.id)
			continue
		}
		w.publish(bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  client.id,
			ChatID:    client.id,
			Content:   msg.Content,
			Timestamp: time.Now(),
		})
	}
}

// Send writes to the client named by ChatID. A text reply for a client that
// is gone goes to every client; a message carrying images fails instead.
// Images are inlined as data URLs.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	if len(msg.Media) > 0 {
		if _, ok := w.clients.Load(msg.ChatID); !ok {
			return fmt.Errorf("webui client %q not connected", msg.ChatID)
		}
	}
	out := wsMessage{Type: "message", Content: msg.Content}
	for _, path := range msg.Media {
		img, err := dataURL(path)
		if err != nil {
			return fmt.Errorf("webui image: %w", err)
		}
		out.Images = append(out.Images, img)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	if c, ok := w.clients.Load(msg.ChatID); ok {
		return c.(*wsClient).write(data)
	}
	w.clients.Range(func(_, value any) bool {
		_ = value.(*wsClient).write(data)
		return true
	})
	return nil
}

func dataURL(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw), nil
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), webUIWriteTimeout)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			logrus.Warnf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(_, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	logrus.Infof("[webui] stopped")
	return nil
}
