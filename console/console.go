// Package console implements the Operator Console (component Q): a readline
// REPL exposing the Manual Override Registry, the Mode Manager, and the
// Emergency Manager to a human operator, built on chzyer/readline for line
// editing and mattn/go-runewidth for column alignment in status tables.
package console

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/mattn/go-runewidth"

	"github.com/trafficgrid/controller/agent"
	"github.com/trafficgrid/controller/models"
)

// Overrides is the narrow override.Registry slice the console drives.
type Overrides interface {
	ForceSignalState(junctionID string, direction models.Direction, duration time.Duration, operatorID, reason string) string
	DisableAgent(operatorID, reason string) string
	EnableAgent(operatorID string) bool
	EmergencyStop(operatorID, reason string) string
	CancelOverride(overrideID, operatorID string) bool
	GetActive() []models.ManualOverride
	GetHistory(limit int) []models.ManualOverride
}

// Mode is the narrow safety/mode.Manager slice the console drives.
type Mode interface {
	CurrentMode() models.SystemMode
	ExitFailSafe(operatorID string) bool
	History(limit int) []models.ModeTransition
}

// Emergency is the narrow emergency.Manager slice the console drives.
type Emergency interface {
	Declare(ctx context.Context, vehicle models.EmergencyVehicle, lookaheadJunctions int) (models.EmergencySession, error)
	Cancel(ctx context.Context) (models.EmergencySession, bool)
	Status() (active bool, vehicleID string, corridor []string)
}

// Console wires a readline REPL against the controller's operator-facing
// collaborators.
type Console struct {
	Loop      *agent.Loop
	Overrides Overrides
	Mode      Mode
	Emergency Emergency

	OperatorID  string
	HistoryFile string

	Out io.Writer
}

// Run starts the REPL and blocks until the user exits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	if c.Out == nil {
		c.Out = io.Discard
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "trafficctl> ",
		HistoryFile:     c.HistoryFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(c.Out, "trafficgrid operator console — type 'help' for commands")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}
		c.dispatch(ctx, input)
	}
}

func (c *Console) dispatch(ctx context.Context, input string) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		c.printHelp()
	case "status":
		c.printStatus()
	case "override":
		c.cmdOverride(args)
	case "disable-agent":
		id := c.Overrides.DisableAgent(c.OperatorID, strings.Join(args, " "))
		fmt.Fprintln(c.Out, "agent disabled:", id)
	case "enable-agent":
		if c.Overrides.EnableAgent(c.OperatorID) {
			fmt.Fprintln(c.Out, "agent re-enabled")
		} else {
			fmt.Fprintln(c.Out, "agent was not disabled")
		}
	case "estop":
		id := c.Overrides.EmergencyStop(c.OperatorID, strings.Join(args, " "))
		fmt.Fprintln(c.Out, "emergency stop issued:", id)
	case "cancel":
		if len(args) < 1 {
			fmt.Fprintln(c.Out, "usage: cancel <override-id>")
			return
		}
		fmt.Fprintln(c.Out, "cancelled:", c.Overrides.CancelOverride(args[0], c.OperatorID))
	case "history":
		c.printHistory()
	case "reset":
		fmt.Fprintln(c.Out, "fail-safe exit:", c.Mode.ExitFailSafe(c.OperatorID))
	case "emergency":
		c.cmdEmergency(ctx, args)
	default:
		fmt.Fprintln(c.Out, "unknown command:", cmd, "(try 'help')")
	}
}

func (c *Console) printHelp() {
	lines := []string{
		"status                                    show current mode, emergency state, last tick",
		"override <junction> <dir> <seconds>       force a junction direction GREEN",
		"disable-agent [reason...]                 pause automated decisions",
		"enable-agent                              resume automated decisions",
		"estop [reason...]                         force every signal RED and disable the agent",
		"cancel <override-id>                      cancel an active override",
		"history                                   show recent overrides and mode transitions",
		"reset                                     exit FAIL_SAFE (operator acknowledgement)",
		"emergency declare <vehicleId> <from> <to> declare an emergency corridor",
		"emergency cancel                          cancel the active emergency corridor",
		"exit / quit                               leave the console",
	}
	for _, l := range lines {
		fmt.Fprintln(c.Out, l)
	}
}

func (c *Console) printStatus() {
	mode := c.Mode.CurrentMode()
	active, vehicleID, corridor := c.Emergency.Status()
	row("mode", string(mode), c.Out)
	row("emergencyActive", fmt.Sprintf("%v", active), c.Out)
	if active {
		row("emergencyVehicle", vehicleID, c.Out)
		row("corridorRemaining", strings.Join(corridor, ","), c.Out)
	}
	if c.Loop != nil {
		snap := c.Loop.Snapshot()
		row("lastTick", strconv.FormatUint(snap.Tick, 10), c.Out)
		row("totalVehicles", strconv.Itoa(snap.State.TotalVehicles), c.Out)
		row("cityAvgDensity", fmt.Sprintf("%.1f", snap.State.CityAvgDensity), c.Out)
	}
}

func (c *Console) printHistory() {
	for _, o := range c.Overrides.GetHistory(20) {
		fmt.Fprintf(c.Out, "%-10s %-18s %-10s %s\n", o.OverrideID, o.Type, o.OperatorID, o.Reason)
	}
	for _, t := range c.Mode.History(20) {
		fmt.Fprintf(c.Out, "%-10s -> %-10s %s\n", t.From, t.To, t.Reason)
	}
}

func (c *Console) cmdOverride(args []string) {
	if len(args) < 3 {
		fmt.Fprintln(c.Out, "usage: override <junction> <direction> <seconds>")
		return
	}
	secs, err := strconv.Atoi(args[2])
	if err != nil {
		fmt.Fprintln(c.Out, "invalid duration:", args[2])
		return
	}
	id := c.Overrides.ForceSignalState(args[0], models.Direction(strings.ToUpper(args[1])), time.Duration(secs)*time.Second, c.OperatorID, "operator override")
	fmt.Fprintln(c.Out, "override created:", id)
}

func (c *Console) cmdEmergency(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(c.Out, "usage: emergency declare <vehicleId> <from> <to> | emergency cancel")
		return
	}
	switch args[0] {
	case "declare":
		if len(args) < 4 {
			fmt.Fprintln(c.Out, "usage: emergency declare <vehicleId> <from> <to>")
			return
		}
		vehicle := models.EmergencyVehicle{ID: args[1], Type: models.Ambulance, CurrentJunctionID: args[2], DestinationJunction: args[3]}
		session, err := c.Emergency.Declare(ctx, vehicle, 0)
		if err != nil {
			fmt.Fprintln(c.Out, "declare failed:", err)
			return
		}
		fmt.Fprintln(c.Out, "emergency declared:", session.SessionID)
	case "cancel":
		session, ok := c.Emergency.Cancel(ctx)
		if !ok {
			fmt.Fprintln(c.Out, "no active emergency")
			return
		}
		fmt.Fprintln(c.Out, "emergency cancelled:", session.SessionID)
	default:
		fmt.Fprintln(c.Out, "unknown emergency subcommand:", args[0])
	}
}

// row prints a label/value pair padded to a fixed display width, using
// go-runewidth so multi-byte values (e.g. non-ASCII operator names) still align.
func row(label, value string, out io.Writer) {
	pad := 18 - runewidth.StringWidth(label)
	if pad < 1 {
		pad = 1
	}
	fmt.Fprintln(out, label+strings.Repeat(" ", pad)+value)
}
