package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"transfer_cavity_lock/internal/events"
	"transfer_cavity_lock/internal/lock"
	"transfer_cavity_lock/internal/service"
)

func TestParseInterval(t *testing.T) {
	h := NewHandler(&service.Service{}, nil)

	cases := []struct {
		name string
		u    string
		want time.Duration
	}{
		{"default_when_missing", "/ws", 1 * time.Second},
		{"interval_string_valid", "/ws?interval=200ms", 200 * time.Millisecond},
		{"interval_ms_valid", "/ws?interval_ms=150", 150 * time.Millisecond},
		{"interval_too_large", "/ws?interval=20s", 1 * time.Second},
		{"interval_ms_too_large", "/ws?interval_ms=20000", 1 * time.Second},
		{"interval_invalid_string", "/ws?interval=bogus", 1 * time.Second},
		{"both_present_interval_wins", "/ws?interval=2s&interval_ms=150", 2 * time.Second},
		{"both_present_invalid_interval_ms_used", "/ws?interval=bogus&interval_ms=250", 250 * time.Millisecond},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, tc.u, nil)
			if got := h.parseInterval(c); got != tc.want {
				t.Fatalf("got %v, want %v for %s", got, tc.want, tc.u)
			}
		})
	}
}

func TestParseTypes(t *testing.T) {
	if parseTypes("  ") != nil {
		t.Fatalf("blank filter must forward everything")
	}
	got := parseTypes("State, notice,,")
	if len(got) != 2 || !got["state"] || !got["notice"] {
		t.Fatalf("unexpected types: %v", got)
	}
}

type envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dialWS(t *testing.T, s *service.Service, query url.Values) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewHandler(s, nil).wsConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestWebSocket_StatusStream_InitialAndPeriodic(t *testing.T) {
	mon := &mockMonitoring{status: lock.Status{State: lock.LaserLocked, Running: true, LaserVoltage: 1.5}}
	conn := dialWS(t, &service.Service{Monitoring: mon}, url.Values{"interval_ms": {"20"}})

	env := readEnvelope(t, conn)
	if env.Type != wsTypeStatus || len(env.Data) == 0 {
		t.Fatalf("bad envelope: %+v", env)
	}
	var st struct {
		State        string  `json:"state"`
		LaserVoltage float64 `json:"laser_voltage"`
	}
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.State != "LASERLOCKED" || st.LaserVoltage != 1.5 {
		t.Fatalf("unexpected status: %+v", st)
	}

	if env := readEnvelope(t, conn); env.Type != wsTypeStatus {
		t.Fatalf("expected a periodic status, got %+v", env)
	}
}

func TestWebSocket_ForwardsHubEvents(t *testing.T) {
	hub := events.NewHub()
	s := &service.Service{Monitoring: &mockMonitoring{}, Hub: hub}
	conn := dialWS(t, s, url.Values{"interval": {"10s"}, "types": {"state"}})

	if env := readEnvelope(t, conn); env.Type != wsTypeStatus {
		t.Fatalf("expected initial status, got %+v", env)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = hub.Publish(events.TypeNotice, lock.Notice{Kind: lock.NoticeScanFailed})
	_ = hub.Publish(events.TypeState, events.StateEvent{From: "STOPPED", To: "FREERUNNING"})

	env := readEnvelope(t, conn)
	if env.Type != events.TypeState {
		t.Fatalf("expected the filtered state event, got %+v", env)
	}
	var se events.StateEvent
	if err := json.Unmarshal(env.Data, &se); err != nil || se.To != "FREERUNNING" {
		t.Fatalf("unexpected state event %+v, %v", se, err)
	}
}

func TestWebSocket_InitialStatusError_Closes(t *testing.T) {
	conn := dialWS(t, &service.Service{Monitoring: &mockMonitoring{err: errors.New("boom")}}, nil)

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var raw json.RawMessage
	if err := conn.ReadJSON(&raw); err == nil {
		t.Fatalf("expected read error (closed), got message: %s", string(raw))
	}
}
