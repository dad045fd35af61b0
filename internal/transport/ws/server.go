package ws

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"embervale.gg/internal/protocol"
	"embervale.gg/internal/sim/economy"
	"embervale.gg/internal/sim/trade"
)

// Server is the websocket gateway: it turns wire messages into trade
// service calls and fans notifications back out to player sessions.
type Server struct {
	trades *trade.Service
	store  *economy.Store
	log    *log.Logger

	nowTick func() uint64

	helloSchema *jsonschema.Schema
	actSchema   *jsonschema.Schema

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]chan []byte // player -> outbound queue
}

func NewServer(trades *trade.Service, store *economy.Store, schemasDir string, nowTick func() uint64, logger *log.Logger) (*Server, error) {
	helloSchema, err := jsonschema.Compile(filepath.Join(schemasDir, "hello.schema.json"))
	if err != nil {
		return nil, err
	}
	actSchema, err := jsonschema.Compile(filepath.Join(schemasDir, "act.schema.json"))
	if err != nil {
		return nil, err
	}
	return &Server{
		trades:      trades,
		store:       store,
		log:         logger,
		nowTick:     nowTick,
		helloSchema: helloSchema,
		actSchema:   actSchema,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[string]chan []byte{},
	}, nil
}

// Deliver routes one notification to its recipient's session. Unknown
// recipients and full queues drop the message; the wire is best-effort and
// clients resync from snapshots.
func (s *Server) Deliver(n protocol.Notification) {
	if n.To == "" {
		return
	}
	b, err := json.Marshal(n)
	if err != nil {
		return
	}
	s.mu.Lock()
	ch := s.sessions[n.To]
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		player, out := s.handshake(conn)
		if player == "" {
			return
		}
		defer s.detach(player, out)

		done := make(chan struct{})
		defer close(done)

		go func() {
			for {
				select {
				case <-done:
					return
				case b, okk := <-out:
					if !okk {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAct {
				continue
			}
			var act protocol.ActMsg
			if err := json.Unmarshal(msg, &act); err != nil {
				continue
			}
			if err := s.validate(s.actSchema, msg); err != nil {
				s.sendResult(out, protocol.ActionResultMsg{
					Type: "ACTION_RESULT", Ref: act.ID, OK: false,
					Code: protocol.ErrProtoBadRequest, Message: "schema: " + err.Error(),
					Tick: s.nowTick(),
				})
				continue
			}
			s.dispatch(player, act, out)
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (player string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected hello"), time.Now().Add(time.Second))
		return "", nil
	}
	if err := s.validate(s.helloSchema, msg); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad hello"), time.Now().Add(time.Second))
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	out = make(chan []byte, 32)
	s.mu.Lock()
	if _, taken := s.sessions[hello.Player]; taken {
		s.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "player already connected"), time.Now().Add(time.Second))
		return "", nil
	}
	s.sessions[hello.Player] = out
	s.mu.Unlock()
	s.log.Printf("session open player=%s", hello.Player)
	return hello.Player, out
}

func (s *Server) detach(player string, out chan []byte) {
	s.mu.Lock()
	if s.sessions[player] == out {
		delete(s.sessions, player)
	}
	s.mu.Unlock()
	s.log.Printf("session closed player=%s", player)
}

func (s *Server) validate(schema *jsonschema.Schema, raw []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return schema.Validate(v)
}

func (s *Server) dispatch(player string, act protocol.ActMsg, out chan []byte) {
	nowTick := s.nowTick()
	res := protocol.ActionResultMsg{Type: "ACTION_RESULT", Ref: act.ID, Tick: nowTick}

	slot := -1
	if act.Slot != nil {
		slot = *act.Slot
	}
	amount := 0
	if act.Amount != nil {
		amount = *act.Amount
	}

	switch act.Action {
	case protocol.ActRequestTrade:
		r := s.trades.RequestTrade(player, act.To, act.Pos, nowTick)
		res.OK, res.Code, res.Message, res.TradeID = r.OK, r.Code, r.Message, r.TradeID
	case protocol.ActAcceptTrade:
		r := s.trades.AcceptTrade(act.TradeID, player, nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActDeclineTrade:
		r := s.trades.DeclineTrade(act.TradeID, player, nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActCancelTrade:
		r := s.trades.CancelTrade(act.TradeID, player, nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActAddItem:
		r := s.trades.AddItem(act.TradeID, player, slot, s.store.InventoryFor(player), nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActRemoveItem:
		r := s.trades.RemoveItem(act.TradeID, player, slot, nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActSetSpark:
		r := s.trades.SetSpark(act.TradeID, player, amount, s.store.Ledger(), nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActSetReady:
		r := s.trades.SetReady(act.TradeID, player, nowTick)
		res.OK, res.Code, res.Message = r.OK, r.Code, r.Message
	case protocol.ActConfirmTrade:
		p1, p2, found := s.trades.Participants(act.TradeID)
		if !found {
			res.Code, res.Message = protocol.ErrInvalidTarget, "trade not found"
			break
		}
		r := s.trades.Confirm(act.TradeID, player,
			s.store.InventoryFor(p1), s.store.InventoryFor(p2),
			s.store.Ledger(), nowTick)
		executed := r.Executed
		res.OK, res.Code, res.Message, res.Executed = r.OK, r.Code, r.Message, &executed
	default:
		res.Code, res.Message = protocol.ErrBadRequest, "unknown action "+act.Action
	}

	s.sendResult(out, res)
}

func (s *Server) sendResult(out chan []byte, res protocol.ActionResultMsg) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}
