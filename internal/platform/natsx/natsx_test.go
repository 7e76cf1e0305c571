package natsx

import (
	"testing"
	"time"
)

func TestEmbeddedServerAcceptsConnections(t *testing.T) {
	srv, err := StartEmbedded(0)
	if err != nil {
		t.Fatalf("start embedded: %v", err)
	}
	defer srv.Shutdown()

	nc, err := Connect(Config{URL: srv.ClientURL(), Name: "natsx-test", ReconnectWait: time.Second, MaxReconnects: 1}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("project:p1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Publish("project:p1", []byte(`{"progress":10}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != `{"progress":10}` {
		t.Fatalf("unexpected payload %s", msg.Data)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected url error")
	}
}
