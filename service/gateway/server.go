package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"PRelay/middleware"
	"PRelay/module/relay/model"
	"PRelay/service/metrics"
	"PRelay/service/relay"
	"PRelay/tools/decode"
	"PRelay/tools/errs"
	"PRelay/tools/ids"
	"PRelay/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options tune the websocket side of the gateway.
type Options struct {
	ReadLimit      int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendQueue      int
	AllowedOrigins []string
	MaxBodyBytes   int64
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 256
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 64 << 10
	}
	return o
}

// Server bridges websocket clients and the REST surface to the relay dispatcher.
type Server struct {
	opts     Options
	hub      *Hub
	disp     *relay.Dispatcher
	ids      *ids.Generator
	upgrader websocket.Upgrader
	mids     *middleware.MiddlewareManager
	originOK atomic.Pointer[func(string) bool]
	gatherer prometheus.Gatherer
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewServer(
	opts Options,
	hub *Hub,
	disp *relay.Dispatcher,
	gen *ids.Generator,
	gatherer prometheus.Gatherer,
	log *zap.Logger,
	m *metrics.Metrics,
) *Server {
	safe.MustNotNil(hub, "hub")
	safe.MustNotNil(disp, "dispatcher")
	safe.MustNotNil(gen, "id generator")
	if log == nil {
		log = zap.NewNop()
	}
	opts = opts.withDefaults()
	s := &Server{
		opts:     opts,
		hub:      hub,
		disp:     disp,
		ids:      gen,
		mids:     middleware.NewManager(),
		gatherer: gatherer,
		log:      log.Named("gateway"),
		metrics:  m,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return (*s.originOK.Load())(r.Header.Get("Origin"))
		},
	}
	s.SetAllowedOrigins(opts.AllowedOrigins)
	return s
}

// SetAllowedOrigins swaps the origin allow-list for both CORS and the websocket upgrade.
// Live connections are not affected.
func (s *Server) SetAllowedOrigins(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ok := middleware.OriginAllowed(origins)
	s.originOK.Store(&ok)
	s.mids.Set("cors", middleware.CORS(origins))
}

// Register mounts the gateway routes on r.
func (s *Server) Register(r gin.IRouter) {
	r.Use(s.mids.Use())

	middleware.GET(r, "/socket", s.serveWS, middleware.RouteOpt{})
	middleware.GET(r, "/healthz", s.healthz, middleware.RouteOpt{})

	api := r.Group("/api")
	middleware.POST(api, "/subscriptions", s.saveSubscription, middleware.RouteOpt{MaxBodyBytes: s.opts.MaxBodyBytes})
	middleware.GET(api, "/online", s.online, middleware.RouteOpt{})

	if s.gatherer != nil {
		middleware.GET(r, "/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})), middleware.RouteOpt{})
	}
}

// Shutdown closes every live socket.
func (s *Server) Shutdown() { s.hub.CloseAll() }

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.hub.Len()})
}

func (s *Server) online(c *gin.Context) {
	c.JSON(http.StatusOK, Success(gin.H{"users": s.disp.Online(c.Request.Context())}))
}

func (s *Server) saveSubscription(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, Fail(errs.ArgsError, "read body: "+err.Error()))
		return
	}
	req, err := decode.JSON[model.SaveSubscription](raw)
	if err == nil {
		err = s.disp.SaveSubscription(c.Request.Context(), req.UserID, req.Subscription)
	} else {
		err = errs.ErrArgs.WrapMsg(err.Error())
	}
	if err != nil {
		code := errs.Code(err)
		status := http.StatusInternalServerError
		if code == errs.ArgsError {
			status = http.StatusBadRequest
		} else {
			s.log.Error("save subscription", zap.Error(err))
		}
		c.JSON(status, Fail(code, err.Error()))
		return
	}
	c.JSON(http.StatusOK, Success(nil))
}

func (s *Server) serveWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.log.Warn("upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	cn := newConn(s.ids.NextString(), ws, s.opts, s.log, s.metrics)
	s.run(cn)
}

// run serves one connection until it closes.
func (s *Server) run(cn *conn) {
	sess := relay.NewSession(cn)
	s.hub.add(cn)
	s.metrics.SessionOpened()
	cn.log.Debug("connection opened", zap.String("remote", cn.ws.RemoteAddr().String()))

	safe.Go(cn.log, "ws-writer", cn.writePump)

	defer func() {
		s.hub.remove(cn)
		s.disp.Disconnect(context.Background(), sess)
		cn.shutdown()
		<-cn.done
		s.metrics.SessionClosed()
		cn.log.Debug("connection closed")
	}()

	ws := cn.ws
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			s.logReadError(cn, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.dispatch(cn, sess, data)
	}
}

func (s *Server) dispatch(cn *conn, sess *relay.Session, data []byte) {
	var env model.Envelope
	err := json.Unmarshal(data, &env)
	if err != nil || env.Event == "" {
		if err == nil {
			err = errs.ErrArgs.WrapMsg("missing event")
		}
		s.reject(cn, "", errs.ErrArgs.WrapMsg("bad frame", "err", err.Error()))
		return
	}
	var herr error
	ok := safe.Run(cn.log, "event:"+env.Event, func() {
		herr = s.disp.Handle(context.Background(), sess, env)
	})
	if !ok {
		herr = errs.ErrInternal.Wrap()
	}
	if herr != nil {
		s.reject(cn, env.Event, herr)
	}
}

func (s *Server) reject(cn *conn, event string, err error) {
	code := errs.Code(err)
	if code == errs.ServerInternalError {
		cn.log.Error("event failed", zap.String("event", event), zap.Error(err))
	} else {
		cn.log.Warn("event rejected", zap.String("event", event), zap.Int("code", code), zap.Error(err))
	}
	reply := model.ErrorReply{Event: event, Code: code, Msg: err.Error()}
	env, mErr := model.NewEnvelope(model.EventError, reply)
	if mErr != nil {
		return
	}
	if sErr := cn.Send(env); sErr != nil {
		cn.log.Debug("error reply dropped", zap.Error(sErr))
	}
}

func (s *Server) logReadError(cn *conn, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		cn.log.Debug("client closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		cn.log.Info("read timeout", zap.Error(err))
	case errors.Is(err, websocket.ErrReadLimit):
		cn.log.Warn("frame too large", zap.Int64("limit", s.opts.ReadLimit))
	default:
		cn.log.Debug("read ended", zap.Error(err))
	}
}
