package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNotificationWireShapeKeepsZeroValues(t *testing.T) {
	b, err := json.Marshal(Notification{Type: "onScrollReady", Index: ptr(0)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"onScrollReady","index":0}` {
		t.Fatalf("wire form = %s: tab index 0 must not be dropped", b)
	}

	b, err = json.Marshal(Notification{Type: "onCharaDetailFinished", ID: "abc", Success: ptr(false)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"onCharaDetailFinished","id":"abc","success":false}` {
		t.Fatalf("wire form = %s: success=false must not be dropped", b)
	}
}

func TestNotificationWireShapeOmitsIrrelevantFields(t *testing.T) {
	b, err := json.Marshal(Notification{Type: "onCaptureStarted"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"type":"onCaptureStarted"}` {
		t.Fatalf("wire form = %s: lifecycle notifications carry only their type", b)
	}
}

func TestRecorderWritesJSONLinesAndForwards(t *testing.T) {
	var out bytes.Buffer
	var forwarded []Notification
	rec := &recorder{
		out:    &out,
		notify: func(n Notification) { forwarded = append(forwarded, n) },
	}

	rec.Handle(Notification{Type: "onCaptureStarted"})
	rec.Handle(Notification{Type: "onPageReady", Index: ptr(2)})

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("recorded %d lines, want 2: %q", len(lines), out.String())
	}
	for _, line := range lines {
		var n Notification
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			t.Fatalf("line %q is not valid JSON: %v", line, err)
		}
	}
	if len(forwarded) != 2 {
		t.Fatalf("forwarded %d notifications, want 2", len(forwarded))
	}
	if forwarded[1].Index == nil || *forwarded[1].Index != 2 {
		t.Fatal("forwarded notification lost its index")
	}
}

func TestRecorderWithoutSinksIsHarmless(t *testing.T) {
	rec := &recorder{}
	rec.Handle(Notification{Type: "onCaptureStopped"})
}
