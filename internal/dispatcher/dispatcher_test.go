package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

type event struct {
	Value string `json:"value"`
}

func newHandler(id string, out chan<- string) Handler {
	return Handler{
		ID: id,
		New: func() any {
			return &event{}
		},
		Decode: func(payload []byte, target any) error {
			return json.Unmarshal(payload, target)
		},
		Invoke: func(e any) {
			out <- e.(*event).Value
		},
	}
}

func TestExactDelivery(t *testing.T) {
	r := New(zerolog.Nop())
	out := make(chan string, 1)
	r.Subscribe("topic", false, newHandler("h1", out))

	r.Deliver("topic", []byte(`{"value":"hi"}`), func(string, string) bool { return false })

	select {
	case v := <-out:
		if v != "hi" {
			t.Fatalf("expected hi got %s", v)
		}
	default:
		t.Fatal("handler was not invoked")
	}
}

func TestSubscribeIsIdempotentByHandlerID(t *testing.T) {
	r := New(zerolog.Nop())
	out := make(chan string, 4)
	r.Subscribe("topic", false, newHandler("h1", out))
	r.Subscribe("topic", false, newHandler("h1", out))

	r.Deliver("topic", []byte(`{"value":"once"}`), func(string, string) bool { return false })

	if len(out) != 1 {
		t.Fatalf("expected exactly one invocation, got %d", len(out))
	}
}

func TestExactAndPatternAreIndependentDeliveries(t *testing.T) {
	r := New(zerolog.Nop())
	out := make(chan string, 4)
	r.Subscribe("topic", false, newHandler("exact", out))
	r.Subscribe("to*", true, newHandler("pattern", out))

	r.Deliver("topic", []byte(`{"value":"x"}`), func(pattern, channel string) bool {
		return pattern == "to*" && len(channel) >= 2 && channel[:2] == "to"
	})

	if len(out) != 2 {
		t.Fatalf("expected two independent invocations (exact + pattern), got %d", len(out))
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	r := New(zerolog.Nop())
	out := make(chan string, 1)
	r.Subscribe("topic", false, newHandler("h1", out))
	r.Unsubscribe("topic", false, "h1")

	r.Deliver("topic", []byte(`{"value":"hi"}`), func(string, string) bool { return false })

	select {
	case <-out:
		t.Fatal("handler should have been removed")
	default:
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	r := New(zerolog.Nop())
	var panicked bool
	r.OnPanic(func() { panicked = true })

	r.Subscribe("topic", false, Handler{
		ID:     "boom",
		New:    func() any { return &event{} },
		Decode: func(payload []byte, target any) error { return json.Unmarshal(payload, target) },
		Invoke: func(any) { panic("boom") },
	})

	r.Deliver("topic", []byte(`{"value":"x"}`), func(string, string) bool { return false })

	if !panicked {
		t.Fatal("expected OnPanic callback to fire")
	}
}

func TestDecodeOncePerTypePerDelivery(t *testing.T) {
	r := New(zerolog.Nop())
	decodes := 0
	makeHandler := func(id string) Handler {
		return Handler{
			ID:  id,
			New: func() any { return &event{} },
			Decode: func(payload []byte, target any) error {
				decodes++
				return json.Unmarshal(payload, target)
			},
			Invoke: func(any) {},
		}
	}
	r.Subscribe("topic", false, makeHandler("a"))
	r.Subscribe("topic", false, makeHandler("b"))

	r.Deliver("topic", []byte(`{"value":"x"}`), func(string, string) bool { return false })

	if decodes != 1 {
		t.Fatalf("expected a single decode shared across same-type handlers, got %d", decodes)
	}
}
