package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/chatsync/internal/transport"
)

// ErrOffline is returned by ScriptedPoster for scripted network failures.
var ErrOffline = errors.New("network unreachable")

// Call records one request seen by ScriptedPoster.
type Call struct {
	Target  string
	Headers map[string]string
	Body    string
}

// Reply is one scripted outcome. Err takes precedence over Status/Body.
type Reply struct {
	Status int
	Body   string
	Err    error
}

// OK returns a 200 reply with the given JSON body.
func OK(body string) Reply {
	return Reply{Status: 200, Body: body}
}

// Status returns a reply with the given status and an empty JSON object.
func Status(code int) Reply {
	return Reply{Status: code, Body: "{}"}
}

// Offline returns a network failure.
func Offline() Reply {
	return Reply{Err: ErrOffline}
}

// ScriptedPoster is a fake engine.Poster.
//
// Replies are consumed per target suffix ("/start", "/c1/message") when a
// script for the suffix exists, otherwise from the default script, in FIFO
// order. An exhausted script answers 200 with an empty JSON object.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedPoster struct {
	mu       sync.Mutex
	defaults []Reply
	bySuffix map[string][]Reply
	calls    []Call
}

// NewScriptedPoster returns a poster answering with replies in order.
func NewScriptedPoster(replies ...Reply) *ScriptedPoster {
	return &ScriptedPoster{
		defaults: replies,
		bySuffix: make(map[string][]Reply),
	}
}

// Push appends replies to the default script.
func (p *ScriptedPoster) Push(replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = append(p.defaults, replies...)
}

// On appends replies for targets ending in suffix.
func (p *ScriptedPoster) On(suffix string, replies ...Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bySuffix[suffix] = append(p.bySuffix[suffix], replies...)
}

// Post implements engine.Poster.
func (p *ScriptedPoster) Post(ctx context.Context, target string, headers map[string]string, body []byte) (*transport.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	p.calls = append(p.calls, Call{Target: target, Headers: h, Body: string(body)})

	reply := Reply{Status: 200, Body: "{}"}
	if suffix, ok := p.matchSuffix(target); ok {
		reply = p.bySuffix[suffix][0]
		p.bySuffix[suffix] = p.bySuffix[suffix][1:]
	} else if len(p.defaults) > 0 {
		reply = p.defaults[0]
		p.defaults = p.defaults[1:]
	}

	if reply.Err != nil {
		return nil, fmt.Errorf("post %s: %w", target, reply.Err)
	}
	return &transport.Response{StatusCode: reply.Status, Body: []byte(reply.Body)}, nil
}

// matchSuffix returns the longest non-empty suffix script matching target.
func (p *ScriptedPoster) matchSuffix(target string) (string, bool) {
	best := ""
	for suffix, replies := range p.bySuffix {
		if len(replies) == 0 || !strings.HasSuffix(target, suffix) {
			continue
		}
		if len(suffix) > len(best) {
			best = suffix
		}
	}
	return best, best != ""
}

// Calls returns a copy of the recorded requests.
func (p *ScriptedPoster) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Targets returns the recorded request targets in order.
func (p *ScriptedPoster) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.Target
	}
	return out
}
