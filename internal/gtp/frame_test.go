package gtp

import "testing"

func TestClassifyFrame(t *testing.T) {
	cases := []struct {
		raw     string
		kind    frameKind
		payload string
	}{
		{"= hello", frameSuccess, "hello"},
		{"=", frameSuccess, ""},
		{"? bad move", frameFailure, "bad move"},
		{"garbage", frameProtocolViolation, "garbage"},
		{"  = padded  ", frameSuccess, "padded"},
	}
	for _, c := range cases {
		kind, payload := classifyFrame([]byte(c.raw))
		if kind != c.kind || payload != c.payload {
			t.Errorf("classifyFrame(%q) = (%v, %q), want (%v, %q)", c.raw, kind, payload, c.kind, c.payload)
		}
	}
}

func TestFramerLineMode(t *testing.T) {
	f := newFramer(false)

	frames := f.feed([]byte("= play b c4\n"))
	if len(frames) != 0 {
		t.Fatalf("expected no complete frame before blank terminator, got %d", len(frames))
	}

	frames = f.feed([]byte("\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 complete frame, got %d", len(frames))
	}
	if string(frames[0]) != "= play b c4" {
		t.Errorf("got frame %q", frames[0])
	}
}

func TestFramerLineModeMultipleFramesInOneChunk(t *testing.T) {
	f := newFramer(false)
	frames := f.feed([]byte("=ok1\n\n=ok2\n\n"))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %v", len(frames), frames)
	}
	if string(frames[0]) != "=ok1" || string(frames[1]) != "=ok2" {
		t.Errorf("frames = %q, %q", frames[0], frames[1])
	}
}

func TestFramerLineModeCRLF(t *testing.T) {
	f := newFramer(false)
	frames := f.feed([]byte("=ok\r\n\r\n"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if string(frames[0]) != "=ok" {
		t.Errorf("got %q", frames[0])
	}
}

func TestFramerJSONMode(t *testing.T) {
	f := newFramer(true)

	frames := f.feed([]byte(`{"id":"1","act`))
	if len(frames) != 0 {
		t.Fatalf("expected no frame for partial JSON, got %d", len(frames))
	}

	frames = f.feed([]byte(`ion":"genmove"}`))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame once JSON is valid, got %d", len(frames))
	}
	if string(frames[0]) != `{"id":"1","action":"genmove"}` {
		t.Errorf("got %q", frames[0])
	}
}
