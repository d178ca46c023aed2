package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"nutsdispatch/internal/model"
)

const heartbeatInterval = 15 * time.Second

// PlanEventsHandler streams a plan date's events as Server-Sent Events.
func (s *Server) PlanEventsHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if _, ok := s.authorize(w, r, nil); !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	key := date.String()
	ch := s.Broker.Subscribe(key)
	defer s.Broker.Unsubscribe(key, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\n")
		fmt.Fprintf(w, "data: {\"date\":\"%s\",\"ts\":\"%s\"}\n\n", key, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			b, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlanWSHandler serves /v1/plans/ws. A ?date= query subscribes right away
// under id = date; further dates are added with
// {"type":"subscribe","id":"x","payload":{"date":"YYYY-MM-DD"}} and dropped
// with {"type":"complete","id":"x"}. Events arrive as "next" messages.
func (s *Server) PlanWSHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, nil); !ok {
		return
	}
	var initial model.Date
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeProblem(w, 400, "Invalid date", err.Error(), r.URL.Path)
			return
		}
		initial = d
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla connections allow a single concurrent writer
	var wmu sync.Mutex
	write := func(v wsMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}

	type sub struct {
		date string
		ch   chan Event
	}
	subs := map[string]sub{}
	var fanout sync.WaitGroup
	subscribe := func(id string, date model.Date) {
		if old, ok := subs[id]; ok {
			s.Broker.Unsubscribe(old.date, old.ch)
		}
		key := date.String()
		ch := s.Broker.Subscribe(key)
		subs[id] = sub{date: key, ch: ch}
		_ = write(wsMessage{Type: "subscribed", ID: id})
		fanout.Add(1)
		go func() {
			defer fanout.Done()
			for evt := range ch {
				payload, _ := json.Marshal(evt)
				_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
			}
			_ = write(wsMessage{Type: "complete", ID: id})
		}()
	}

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				wmu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				wmu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	if !initial.IsZero() {
		subscribe(initial.String(), initial)
	}
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl struct {
				Date string `json:"date"`
			}
			_ = json.Unmarshal(msg.Payload, &pl)
			d, err := model.ParseDate(pl.Date)
			if err != nil || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: []byte(`{"message":"id and payload.date (YYYY-MM-DD) required"}`)})
				continue
			}
			subscribe(msg.ID, d)
		case "complete":
			if s0, ok := subs[msg.ID]; ok {
				s.Broker.Unsubscribe(s0.date, s0.ch)
				delete(subs, msg.ID)
			}
		}
	}
	close(done)
	for id, s0 := range subs {
		s.Broker.Unsubscribe(s0.date, s0.ch)
		delete(subs, id)
	}
	fanout.Wait()
}
