package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/store"
	"sensor-gateway/internal/telemetry"
)

// UserError is an invalid command: the user gets guidance, nothing crashes.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string {
	return e.Msg
}

const helpText = `Available commands:
/status - show all current sensor readings
/status <sensor> - show one sensor
/subscribe <sensor|threshold|stale|*> - get alerts for a sensor or alert class
/unsubscribe <target> - stop alerts for a target
/list - list known sensors and your subscriptions
/help - show this help`

// Help returns the command overview shown for /help and malformed input.
func Help() string {
	return helpText
}

// health is the slice of the telemetry source the router needs: whether the
// live subscription is currently up.
type health interface {
	Healthy() bool
}

// Router parses inbound chat commands and dispatches them against the store
// and registry. Every command produces a reply, never silence.
type Router struct {
	store    *store.Store
	registry *registry.Registry
	poller   *telemetry.HubPoller // may be nil
	source   health
	ingest   func(models.SensorReading) bool
	logger   *logging.Logger
}

func New(st *store.Store, reg *registry.Registry, poller *telemetry.HubPoller, source health, logger *logging.Logger) *Router {
	return &Router{
		store:    st,
		registry: reg,
		poller:   poller,
		source:   source,
		logger:   logger,
	}
}

// SetIngest wires the pipeline entry point used for backfilled readings, so
// a reading fetched over HTTP runs through rule evaluation exactly like a
// live one. The gateway is constructed after the router, hence the setter.
func (r *Router) SetIngest(fn func(models.SensorReading) bool) {
	r.ingest = fn
}

// Handle executes one command and returns the reply text. User mistakes come
// back as help messages; they never propagate as errors.
func (r *Router) Handle(ctx context.Context, cmd models.Command) string {
	reply, err := r.dispatch(ctx, cmd)
	if err != nil {
		var ue *UserError
		if errors.As(err, &ue) {
			return fmt.Sprintf("%s\n\n%s", ue.Msg, helpText)
		}
		// Internal failure: log it, give the user an honest reply.
		r.logger.Errorf("Command /%s from chat %d failed: %v", cmd.Verb, cmd.ChatID, err)
		return "Something went wrong handling that command, please try again."
	}
	return reply
}

func (r *Router) dispatch(ctx context.Context, cmd models.Command) (string, error) {
	switch cmd.Verb {
	case "start":
		return "👋 Welcome! I watch your sensors and alert you when rules trip.\n\n" + helpText, nil
	case "help":
		return helpText, nil
	case "status":
		return r.status(ctx, cmd.Args)
	case "subscribe":
		target, err := oneArg(cmd.Args, "subscribe")
		if err != nil {
			return "", err
		}
		if r.registry.Subscribe(ctx, cmd.ChatID, target) {
			return fmt.Sprintf("Subscribed to %s.", target), nil
		}
		return fmt.Sprintf("Already subscribed to %s.", target), nil
	case "unsubscribe":
		target, err := oneArg(cmd.Args, "unsubscribe")
		if err != nil {
			return "", err
		}
		if r.registry.Unsubscribe(ctx, cmd.ChatID, target) {
			return fmt.Sprintf("Unsubscribed from %s.", target), nil
		}
		return fmt.Sprintf("You were not subscribed to %s.", target), nil
	case "list":
		return r.list(cmd.ChatID), nil
	default:
		return "", &UserError{Msg: fmt.Sprintf("Unknown command /%s.", cmd.Verb)}
	}
}

func (r *Router) status(ctx context.Context, args []string) (string, error) {
	if len(args) > 1 {
		return "", &UserError{Msg: "Usage: /status or /status <sensor>."}
	}
	if len(args) == 1 {
		return r.statusOne(ctx, args[0])
	}

	var b strings.Builder
	b.WriteString("📊 *Current sensor readings:*\n")
	n := 0
	for st := range r.store.All() {
		b.WriteString(formatState(st))
		b.WriteByte('\n')
		n++
	}
	if n == 0 {
		return "No sensor data received yet.", nil
	}
	return b.String(), nil
}

func (r *Router) statusOne(ctx context.Context, sensorID string) (string, error) {
	st, err := r.store.Get(sensorID)
	if err == nil {
		return formatState(st), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	// Nothing cached. If the live subscription is down, fall back to the
	// hub's HTTP endpoint before giving up.
	if r.poller != nil && !r.source.Healthy() {
		reading, perr := r.poller.PollLatest(ctx, sensorID)
		if perr == nil {
			if r.ingest != nil {
				r.ingest(reading)
			} else {
				r.store.Update(reading)
			}
			return formatState(models.SensorState{Reading: reading}), nil
		}
		if !errors.Is(perr, telemetry.ErrNotFound) {
			r.logger.Errorf("Hub backfill for %s failed: %v", sensorID, perr)
		}
	}
	return fmt.Sprintf("No data for sensor %s yet.", sensorID), nil
}

func (r *Router) list(chatID int64) string {
	var b strings.Builder
	ids := r.store.IDs()
	if len(ids) == 0 {
		b.WriteString("No sensors known yet.\n")
	} else {
		b.WriteString("Known sensors:\n")
		for _, id := range ids {
			fmt.Fprintf(&b, "• %s\n", id)
		}
	}
	subs := r.registry.Subscriptions(chatID)
	if len(subs) == 0 {
		b.WriteString("You have no subscriptions.")
	} else {
		b.WriteString("Your subscriptions: " + strings.Join(subs, ", "))
	}
	return b.String()
}

func oneArg(args []string, verb string) (string, error) {
	if len(args) != 1 || args[0] == "" {
		return "", &UserError{Msg: fmt.Sprintf("Usage: /%s <target>.", verb)}
	}
	return args[0], nil
}

func formatState(st models.SensorState) string {
	r := st.Reading
	when := r.Timestamp.Local().Format("02.01.2006 15:04:05")
	line := fmt.Sprintf("📍 *%s* – %s: *%.1f %s* (%s)", r.SensorID, r.Type, r.Value, r.Unit, when)
	if st.Stale {
		line += " ⚠ stale"
	}
	return line
}

// Parse splits a raw chat message into a Command. Non-command chatter yields
// a UserError so the user still gets guidance.
func Parse(text string, chatID int64) (models.Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return models.Command{}, &UserError{Msg: "I only understand commands."}
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return models.Command{}, &UserError{Msg: "Empty command."}
	}
	// Telegram appends @botname in group chats.
	verb := strings.ToLower(fields[0])
	if i := strings.IndexByte(verb, '@'); i >= 0 {
		verb = verb[:i]
	}
	return models.Command{Verb: verb, Args: fields[1:], ChatID: chatID}, nil
}
