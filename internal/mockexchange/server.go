package mockexchange

import (
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"blinktrade/internal/signer"
	"blinktrade/pkg/core"
)

type subKind int

const (
	tickerKind subKind = iota
	bookKind
)

type connSub struct {
	kind    subKind
	symbols []string
}

// conn is one websocket session. mu guards acct and subs; writeMu serializes
// frames.
type conn struct {
	ws      *websocket.Conn
	mu      sync.Mutex
	acct    account
	subs    map[int64]connSub
	writeMu sync.Mutex
}

func (c *conn) write(msgs ...core.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	for _, msg := range msgs {
		data, err := core.JSON.Marshal(msg)
		if err != nil {
			return err
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

// Server serves an Exchange over HTTP and websocket.
type Server struct {
	*Exchange
	router   *mux.Router
	upgrader websocket.Upgrader
	srv      *httptest.Server

	nonceMu sync.Mutex
	nonces  map[string]map[string]bool
}

// NewServer starts an HTTP server for e on a loopback port.
func NewServer(e *Exchange) *Server {
	s := &Server{
		Exchange: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		nonces: make(map[string]map[string]bool),
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/v1/{currency}/ticker", s.handleTicker).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/{currency}/trades", s.handleTrades).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/{currency}/orderbook", s.handleOrderBook).Methods(http.MethodGet)
	s.router.HandleFunc("/tapi/v1/message", s.handleMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/trade/", s.handleWebsocket)

	s.srv = httptest.NewServer(s.router)
	return s
}

// URL returns the http base URL. The websocket endpoint is URL()+"/trade/".
func (s *Server) URL() string {
	return s.srv.URL
}

// Handler returns the router, for serving the exchange on another listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close drops every websocket connection and stops the server.
func (s *Server) Close() {
	s.DropConnections()
	s.srv.Close()
}

// DropConnections closes every websocket connection from the server side and
// returns how many were closed.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
	return len(conns)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := core.JSON.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) publicMarket(w http.ResponseWriter, r *http.Request) (Market, bool) {
	currency := mux.Vars(r)["currency"]
	crypto := r.URL.Query().Get("crypto_currency")
	if crypto == "" {
		crypto = "BTC"
	}
	m, ok := s.market(crypto + currency)
	if !ok {
		writeJSON(w, http.StatusNotFound, core.Message{"Status": http.StatusNotFound, "Description": "Unknown market"})
	}
	return m, ok
}

func satoshiFloat(v int64) float64 {
	return float64(v) / 1e8
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	m, ok := s.publicMarket(w, r)
	if !ok {
		return
	}
	ticker := core.Message{
		"pair": m.Symbol,
		"buy":  satoshiFloat(m.Bid),
		"sell": satoshiFloat(m.Ask),
		"last": satoshiFloat(m.Last),
		"high": satoshiFloat(m.High),
		"low":  satoshiFloat(m.Low),
		"vol":  satoshiFloat(m.Volume),
	}
	ticker["vol_"+strings.ToLower(mux.Vars(r)["currency"])] = satoshiFloat(m.QuoteVolume)
	writeJSON(w, http.StatusOK, ticker)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	m, ok := s.publicMarket(w, r)
	if !ok {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, core.Message{"Status": http.StatusBadRequest, "Description": "Invalid limit"})
			return
		}
		limit = n
	}
	since := int64(1_500_000_000)
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, core.Message{"Status": http.StatusBadRequest, "Description": "Invalid since"})
			return
		}
		since = n
	}

	trades := make([]any, 0, min(limit, 3))
	for i := range min(limit, 3) {
		side := "buy"
		if i%2 == 1 {
			side = "sell"
		}
		trades = append(trades, core.Message{
			"tid":    int64(i + 1),
			"date":   since + int64(i*60),
			"price":  satoshiFloat(m.Last),
			"amount": 0.1,
			"side":   side,
		})
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleOrderBook(w http.ResponseWriter, r *http.Request) {
	m, ok := s.publicMarket(w, r)
	if !ok {
		return
	}
	levels := func(in [][2]int64, userID int64) [][]any {
		out := make([][]any, len(in))
		for i, lvl := range in {
			out[i] = []any{satoshiFloat(lvl[0]), satoshiFloat(lvl[1]), userID}
		}
		return out
	}
	writeJSON(w, http.StatusOK, core.Message{
		"pair": m.Symbol,
		"bids": levels(m.Bids, 90000001),
		"asks": levels(m.Asks, 90000002),
	})
}

// authenticate checks the signed headers and rejects replayed nonces.
func (s *Server) authenticate(r *http.Request) (int64, bool) {
	key := r.Header.Get(signer.HeaderAPIKey)
	nonce := r.Header.Get(signer.HeaderNonce)
	k, ok := s.secret(key)
	if !ok || nonce == "" || !signer.Verify(k.secret, nonce, r.Header.Get(signer.HeaderSignature)) {
		return 0, false
	}

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	seen := s.nonces[key]
	if seen == nil {
		seen = make(map[string]bool)
		s.nonces[key] = seen
	}
	if seen[nonce] {
		return 0, false
	}
	seen[nonce] = true
	return k.userID, true
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, core.Message{"Status": http.StatusUnauthorized, "Description": "Invalid API key or signature"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, core.Message{"Status": http.StatusBadRequest, "Description": err.Error()})
		return
	}
	msg, err := core.DecodeMessage(body)
	if err != nil {
		writeJSON(w, http.StatusOK, core.Message{"Status": http.StatusBadRequest, "Description": "Invalid JSON"})
		return
	}

	acct := &account{userID: userID}
	writeJSON(w, http.StatusOK, core.Message{
		"Status":      http.StatusOK,
		"Description": "OK",
		"Responses":   s.handle(acct, msg),
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade failed")
		return
	}

	c := &conn{ws: ws, subs: make(map[int64]connSub)}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}

		msg, err := core.DecodeMessage(data)
		if err != nil {
			_ = c.write(core.Message{"MsgType": "ERROR", "Description": "Invalid JSON"})
			continue
		}
		if err := c.write(s.serve(c, msg)...); err != nil {
			return
		}
	}
}

func (s *Server) serve(c *conn, msg core.Message) []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.MsgType() {
	case "e":
		return s.subscribe(c, msg, tickerKind, "SecurityStatusReqID", func(id int64, m Market) core.Message {
			return securityStatus(id, m)
		})
	case "V":
		return s.subscribe(c, msg, bookKind, "MDReqID", func(id int64, m Market) core.Message {
			return fullRefresh(id, m)
		})
	}
	return s.handle(&c.acct, msg)
}

// subscribe must be called with c.mu held.
func (s *Server) subscribe(c *conn, msg core.Message, kind subKind, idField string, snapshot func(int64, Market) core.Message) []core.Message {
	id, _ := msg.Int64(idField)
	if msg.String("SubscriptionRequestType") == "2" {
		delete(c.subs, id)
		return nil
	}

	var symbols []string
	if raw, ok := msg["Instruments"].([]any); ok {
		for _, v := range raw {
			if sym, ok := v.(string); ok {
				symbols = append(symbols, sym)
			}
		}
	}
	var markets []Market
	for _, sym := range symbols {
		m, ok := s.market(sym)
		if !ok {
			continue
		}
		if m.Halted {
			return []core.Message{errorFor(msg, "Market halted", sym)}
		}
		markets = append(markets, m)
	}
	c.subs[id] = connSub{kind: kind, symbols: symbols}

	out := make([]core.Message, 0, len(markets))
	for _, m := range markets {
		out = append(out, snapshot(id, m))
	}
	return out
}

// push sends msgs to every connection whose account matches.
func (e *Exchange) push(match func(*account) bool, msgs ...core.Message) {
	e.mu.Lock()
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	for _, c := range conns {
		c.mu.Lock()
		ok := match(&c.acct)
		c.mu.Unlock()
		if ok {
			_ = c.write(msgs...)
		}
	}
}

// pushSubscribers sends one message per matching subscription and returns how
// many were sent.
func (e *Exchange) pushSubscribers(kind subKind, symbol string, build func(reqID int64) core.Message) int {
	e.mu.Lock()
	conns := make([]*conn, 0, len(e.conns))
	for c := range e.conns {
		conns = append(conns, c)
	}
	e.mu.Unlock()

	sent := 0
	for _, c := range conns {
		c.mu.Lock()
		var ids []int64
		for id, sub := range c.subs {
			if sub.kind == kind && slices.Contains(sub.symbols, symbol) {
				ids = append(ids, id)
			}
		}
		c.mu.Unlock()

		slices.Sort(ids)
		for _, id := range ids {
			if c.write(build(id)) == nil {
				sent++
			}
		}
	}
	return sent
}
