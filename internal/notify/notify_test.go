package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

var testLead = Accepted{
	TrackingID:     "trk_ab12",
	IdempotencyKey: "k1",
	AcceptedAt:     time.Date(2025, 11, 14, 15, 4, 5, 0, time.UTC),
	ScenarioID:     "smoke",
	Zip:            "94107",
	CreditRange:    "720-759",
}

func TestClient_LeadAccepted(t *testing.T) {
	var gotPath, gotTitle, gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(NtfyConfig{
		Enabled:  true,
		Server:   server.URL + "/",
		Topic:    "leads",
		Priority: "default",
		Tags:     "incoming_envelope",
		Token:    "secret",
	}, zap.NewNop())

	if err := client.LeadAccepted(context.Background(), testLead); err != nil {
		t.Fatalf("LeadAccepted: %v", err)
	}
	if gotPath != "/leads" {
		t.Errorf("path = %q", gotPath)
	}
	if gotTitle != "Lead Accepted: trk_ab12" {
		t.Errorf("title = %q", gotTitle)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if !strings.Contains(gotBody, "Tracking ID: trk_ab12") || !strings.Contains(gotBody, "Scenario: smoke") {
		t.Errorf("unexpected body:\n%s", gotBody)
	}
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(NtfyConfig{Enabled: true, Server: server.URL, Topic: "leads", Priority: "default"}, zap.NewNop())
	if err := client.LeadAccepted(context.Background(), testLead); err == nil {
		t.Error("expected error for 403")
	}
}

func TestClient_DisabledSendsNothing(t *testing.T) {
	client := NewClient(NtfyConfig{Enabled: false, Server: "http://127.0.0.1:1", Topic: "leads"}, zap.NewNop())
	if err := client.LeadAccepted(context.Background(), testLead); err != nil {
		t.Errorf("disabled client returned %v", err)
	}
}

type recordingNotifier struct {
	calls []Accepted
	err   error
}

func (r *recordingNotifier) LeadAccepted(_ context.Context, a Accepted) error {
	r.calls = append(r.calls, a)
	return r.err
}

func TestMulti_CallsEverySink(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("broker down")}
	ok := &recordingNotifier{}

	err := Multi{failing, ok}.LeadAccepted(context.Background(), testLead)
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.calls) != 1 {
		t.Errorf("second sink not called after first failed")
	}
}

func TestFilter(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{`scenario_id != "smoke"`, false},
		{`zip.startsWith("94")`, true},
		{`credit_range in ["760+", "720-759"] && accepted_ms > 0`, true},
		{`tracking_id == "trk_other"`, false},
	}
	for _, tt := range tests {
		f, err := NewFilter(tt.expr)
		if err != nil {
			t.Fatalf("NewFilter(%q): %v", tt.expr, err)
		}
		if got := f.Match(testLead); got != tt.want {
			t.Errorf("%s: Match = %v, want %v", tt.expr, got, tt.want)
		}
	}

	if _, err := NewFilter(`zip +`); err == nil {
		t.Error("expected compile error")
	}
}

func TestFilter_WrapSkipsNonMatching(t *testing.T) {
	f, err := NewFilter(`scenario_id == "prod"`)
	if err != nil {
		t.Fatalf("NewFilter: %v", err)
	}
	rec := &recordingNotifier{}
	if err := f.Wrap(rec).LeadAccepted(context.Background(), testLead); err != nil {
		t.Fatalf("LeadAccepted: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("filtered lead was forwarded")
	}
}

func TestNew_NoSinksIsNoop(t *testing.T) {
	n, err := New(Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := n.(*NoopNotifier); !ok {
		t.Errorf("expected NoopNotifier, got %T", n)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{
		Ntfy:   NtfyConfig{Enabled: true, Priority: "loud"},
		AMQP:   AMQPConfig{Enabled: true},
		Filter: "zip +",
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"topic is required", "invalid notify.ntfy.priority", "amqp.url", "invalid notify.filter"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestAMQPPublisher_DialHonoursContext(t *testing.T) {
	// Accepts TCP connections and never speaks AMQP.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	p := NewAMQPPublisher(AMQPConfig{Enabled: true, URL: "amqp://guest:guest@" + ln.Addr().String() + "/"}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := p.LeadAccepted(ctx, testLead); err == nil {
		t.Fatal("expected error from silent broker")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("publish took %s, context deadline ignored", elapsed)
	}
}
