// Package responder implements the auto-responder half of §4.5's "run
// auto-acknowledge and auto-responder": user-configured triggers matched
// against incoming text, replying with a token-expanded template or the
// output of a script, per the §6 script contract.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dpaschal/meshcore-gateway/internal/delivery"
	"github.com/dpaschal/meshcore-gateway/internal/model"
	"github.com/dpaschal/meshcore-gateway/internal/tokens"
)

// Destination selects where a trigger's reply goes once computed.
type Destination struct {
	Suppressed bool  // channel = none: run side effects, send nothing
	ReplyToDM  bool  // reply to the sender as a direct message
	Channel    int32 // used when neither of the above
}

// Trigger is one user-configured auto-responder rule. Exactly one of
// Response/Script is set.
type Trigger struct {
	Name     string
	Pattern  *regexp.Regexp
	Response string
	Script   string
	Dest     Destination
}

// params extracts the trigger's named regex capture groups ({param}
// values per §6) from the matched text.
func (t Trigger) params(text string) map[string]string {
	out := map[string]string{}
	if t.Pattern == nil {
		return out
	}
	names := t.Pattern.SubexpNames()
	m := t.Pattern.FindStringSubmatch(text)
	if m == nil {
		return out
	}
	for i, name := range names {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}

// ScriptRunner executes a trigger's script with the §6 environment
// contract and returns its captured stdout. The concrete child-process
// launcher is an external collaborator (§1); ExecRunner is the default
// adapter.
type ScriptRunner interface {
	Run(ctx context.Context, path string, env map[string]string) (stdout []byte, err error)
}

// Sender is the slice of the Delivery Tracker the responder needs.
type Sender interface {
	Enqueue(ctx context.Context, req delivery.SendRequest) (uint32, error)
}

// Store is the slice of the Store Port the responder needs to resolve
// token values and script environment fields.
type Store interface {
	GetNode(ctx context.Context, num uint32) (*model.Node, bool, error)
	ListActiveNodes(ctx context.Context, maxAgeHours int) ([]*model.Node, error)
}

// Responder implements engine.AutoResponder.
type Responder struct {
	Store     Store
	Sender    Sender
	Scripts   ScriptRunner
	Logger    *log.Logger
	Triggers  []Trigger
	LocalNode uint32
	LocalIP   string
	LocalPort int
	Version   string
	Features  string
	StartedAt time.Time
}

func (r *Responder) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// OnTextMessage implements engine.AutoResponder: the first matching
// trigger wins.
func (r *Responder) OnTextMessage(ctx context.Context, msg *model.Message) error {
	for _, tr := range r.Triggers {
		if tr.Pattern == nil || !tr.Pattern.MatchString(msg.Text) {
			continue
		}
		if err := r.fire(ctx, tr, msg); err != nil {
			r.logger().Warn("auto-responder trigger failed", "trigger", tr.Name, "err", err)
		}
		return nil
	}
	return nil
}

func (r *Responder) fire(ctx context.Context, tr Trigger, msg *model.Message) error {
	sender, _, err := r.Store.GetNode(ctx, msg.SourceNode)
	if err != nil {
		return fmt.Errorf("responder: load sender: %w", err)
	}

	var responses []string
	if tr.Script != "" {
		responses, err = r.runScript(ctx, tr, sender, msg)
		if err != nil {
			return err
		}
	} else if tr.Response != "" {
		responses = []string{tokens.Expand(tr.Response, r.tokenValues(ctx, sender, msg))}
	}
	if tr.Dest.Suppressed || len(responses) == 0 {
		return nil
	}
	for _, text := range responses {
		req := delivery.SendRequest{Text: text}
		if tr.Dest.ReplyToDM {
			req.IsDM = true
			req.Destination = msg.SourceNode
		} else {
			req.Channel = tr.Dest.Channel
		}
		if _, err := r.Sender.Enqueue(ctx, req); err != nil {
			return fmt.Errorf("responder: enqueue reply: %w", err)
		}
	}
	return nil
}

func (r *Responder) tokenValues(ctx context.Context, sender *model.Node, msg *model.Message) tokens.Values {
	v := tokens.Values{
		Hops:      int(msg.HopStart) - int(msg.HopLimit),
		SNR:       msg.RxSNR,
		RSSI:      msg.RxRSSI,
		Channel:   strconv.Itoa(int(msg.Channel)),
		Transport: "tcp",
		Now:       time.Now(),
		IP:        r.LocalIP,
		Port:      r.LocalPort,
		Version:   r.Version,
		Features:  r.Features,
	}
	if sender != nil {
		v.LongName = sender.LongName
		v.ShortName = sender.ShortName
	}
	if !r.StartedAt.IsZero() {
		v.Duration = time.Since(r.StartedAt).Round(time.Second).String()
	}
	if active, err := r.Store.ListActiveNodes(ctx, 24); err == nil {
		v.NodeCount = len(active)
		for _, n := range active {
			if n.HopsAway == 0 {
				v.DirectCount++
			}
		}
	}
	return v
}

func (r *Responder) runScript(ctx context.Context, tr Trigger, sender *model.Node, msg *model.Message) ([]string, error) {
	if r.Scripts == nil {
		return nil, fmt.Errorf("responder: trigger %q has a script but no script runner is configured", tr.Name)
	}
	env := map[string]string{
		"TRIGGER":         tr.Name,
		"SENDER":          model.IDString(msg.SourceNode),
		"MESSAGE":         msg.Text,
		"MESHTASTIC_IP":   r.LocalIP,
		"MESHTASTIC_PORT": strconv.Itoa(r.LocalPort),
		"MSG_TEXT":        msg.Text,
		"MSG_CHANNEL":     strconv.Itoa(int(msg.Channel)),
		"MSG_SOURCE_NODE": model.IDString(msg.SourceNode),
		"MSG_PACKET_ID":   strconv.FormatUint(uint64(msg.PacketID), 10),
	}
	if sender != nil {
		env["SENDER_LAT"] = strconv.FormatFloat(sender.Latitude, 'f', -1, 64)
		env["SENDER_LON"] = strconv.FormatFloat(sender.Longitude, 'f', -1, 64)
		env["SENDER_LONG_NAME"] = sender.LongName
		env["SENDER_SHORT_NAME"] = sender.ShortName
	}
	if local, ok, err := r.Store.GetNode(ctx, r.LocalNode); err == nil && ok {
		env["LOCAL_LAT"] = strconv.FormatFloat(local.Latitude, 'f', -1, 64)
		env["LOCAL_LON"] = strconv.FormatFloat(local.Longitude, 'f', -1, 64)
		env["LOCAL_LONG_NAME"] = local.LongName
	}
	for name, val := range tr.params(msg.Text) {
		env[name] = val
	}

	out, err := r.Scripts.Run(ctx, tr.Script, env)
	if err != nil {
		return nil, err
	}
	return ParseScriptOutput(out)
}

type scriptOutput struct {
	Response  string   `json:"response"`
	Responses []string `json:"responses"`
}

// ParseScriptOutput consults stdout for {response} or {responses: []}
// per §6; unparseable stdout is not an error, it just yields nothing.
// Exported so the scheduler's timer task can apply the same contract to
// its own script-backed sends.
func ParseScriptOutput(out []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var parsed scriptOutput
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, nil
	}
	if len(parsed.Responses) > 0 {
		return parsed.Responses, nil
	}
	if parsed.Response != "" {
		return []string{parsed.Response}, nil
	}
	return nil, nil
}

// ExecRunner is the default ScriptRunner, launching the script as a
// plain child process with the contract environment appended to the
// gateway's own (§5: "truly parallel child processes").
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, path string, env map[string]string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("responder: run script %s: %w", path, err)
	}
	return stdout.Bytes(), nil
}
