package dashboard

import (
	"context"
	_ "embed"
	log "log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

//go:embed index.html
var indexHTML []byte

type Server struct {
	app  *fiber.App
	b    *Broadcaster
	addr string
}

func NewServer(addr string, b *Broadcaster) *Server {
	s := &Server{b: b, addr: addr}

	app := fiber.New(fiber.Config{
		AppName:               "Receptionist Dashboard",
		DisableStartupMessage: true,
	})

	app.Get("/", s.handleIndex)
	app.Get("/healthz", s.handleHealth)
	app.Get("/api/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleWS))

	s.app = app
	return s
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Warn("Dashboard shutdown", "err", err)
		}
	})
	defer stop()

	log.Info("Dashboard running", "url", "http://"+ln.Addr().String())
	return s.app.Listener(ln)
}

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Send(indexHTML)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "viewers": s.b.ViewerCount()})
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.b.History())
}

func (s *Server) handleWS(c *websocket.Conn) {
	v, backfill, err := s.b.subscribe()
	if err != nil {
		log.Error("Dashboard backfill", "err", err)
		return
	}
	defer s.b.unsubscribe(v)

	log.Info("Dashboard viewer connected", "remote", c.RemoteAddr().String())

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		c.SetReadDeadline(time.Now().Add(pongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if !write(c, websocket.TextMessage, backfill) {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-v.send:
			if !ok {
				write(c, websocket.CloseMessage, nil)
				return
			}
			if !write(c, websocket.TextMessage, msg) {
				return
			}
		case <-ticker.C:
			if !write(c, websocket.PingMessage, nil) {
				return
			}
		case <-closed:
			log.Info("Dashboard viewer disconnected")
			return
		}
	}
}

func write(c *websocket.Conn, kind int, data []byte) bool {
	c.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.WriteMessage(kind, data); err != nil {
		log.Debug("Dashboard write", "err", err)
		return false
	}
	return true
}
