// Package commands turns chat-style text into goals and status reports.
package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/basket/forager/internal/goal"
	"github.com/basket/forager/internal/world"
)

// FreeformKind is the goal type for "do <text>" requests.
const FreeformKind goal.Kind = "freeform"

// SourceCommand tags goals created from commands.
const SourceCommand = "command"

// ErrUnknownCommand is returned for a verb Parse does not recognise.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one parsed line. Goal is set for verbs that queue work.
type Command struct {
	Verb string
	Args []string
	Goal *goal.Goal
}

// Query verbs report state instead of queueing goals.
const (
	VerbStop    = "stop"
	VerbStatus  = "status"
	VerbHistory = "history"
	VerbStats   = "stats"
	VerbCoord   = "coord"
	VerbHelp    = "help"
)

var aliases = map[string]string{
	"go":    "goto",
	"move":  "goto",
	"come":  "follow",
	"wood":  "gather",
	"chop":  "gather",
	"dig":   "mine",
	"table": "workbench",
	"food":  "eat",
	"halt":  "stop",
	"?":     "help",
}

// Parse reads one command line. A leading "/" and a trailing "@bot" on
// the verb are ignored so chat commands parse the same as plain text.
func Parse(text string) (Command, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	verb := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if i := strings.IndexByte(verb, '@'); i > 0 {
		verb = verb[:i]
	}
	if a, ok := aliases[verb]; ok {
		verb = a
	}
	cmd := Command{Verb: verb, Args: fields[1:]}
	args := cmd.Args

	var g goal.Goal
	switch verb {
	case VerbStop, VerbStatus, VerbStats, VerbCoord, VerbHelp:
		return cmd, nil
	case VerbHistory:
		if len(args) > 0 {
			if _, err := strconv.Atoi(args[0]); err != nil {
				return cmd, fmt.Errorf("history: %q is not a number", args[0])
			}
		}
		return cmd, nil
	case "goto":
		if len(args) != 3 {
			return cmd, fmt.Errorf("usage: goto <x> <y> <z>")
		}
		var xyz [3]float64
		for i, a := range args {
			v, err := strconv.ParseFloat(a, 64)
			if err != nil {
				return cmd, fmt.Errorf("goto: %q is not a coordinate", a)
			}
			xyz[i] = v
		}
		g = goal.New(goal.KindMoveTo, goal.MoveParams{Target: world.Vec3{X: xyz[0], Y: xyz[1], Z: xyz[2]}})
	case "follow":
		if len(args) == 0 {
			return cmd, fmt.Errorf("usage: follow <player> [distance]")
		}
		p := goal.FollowParams{Player: args[0]}
		if len(args) > 1 {
			d, err := strconv.ParseFloat(args[1], 64)
			if err != nil || d <= 0 {
				return cmd, fmt.Errorf("follow: %q is not a distance", args[1])
			}
			p.Distance = d
		}
		g = goal.New(goal.KindFollow, p)
	case "gather":
		n, _, err := countAndWords(args)
		if err != nil {
			return cmd, fmt.Errorf("gather: %w", err)
		}
		g = goal.New(goal.KindGatherWood, goal.GatherWoodParams{Amount: n})
	case "mine":
		n, words, err := countAndWords(args)
		if err != nil {
			return cmd, fmt.Errorf("mine: %w", err)
		}
		g = goal.New(goal.KindMine, goal.MineParams{Block: strings.Join(words, "_"), Amount: n})
	case "craft":
		if len(args) == 0 {
			return cmd, fmt.Errorf("usage: craft <tool> [tool...]")
		}
		tools := lo.Uniq(lo.Map(args, func(a string, _ int) string {
			return strings.ToLower(strings.Trim(a, ","))
		}))
		g = goal.New(goal.KindCraftTools, goal.CraftToolsParams{Tools: lo.Compact(tools)})
	case "workbench":
		g = goal.New(goal.KindCraftWorkbench, goal.WorkbenchParams{})
	case "build":
		n, words, err := countAndWords(args)
		if err != nil {
			return cmd, fmt.Errorf("build: %w", err)
		}
		if len(words) == 0 {
			return cmd, fmt.Errorf("usage: build <structure> [size]")
		}
		g = goal.New(goal.KindBuild, goal.BuildParams{Structure: strings.Join(words, "_"), Size: n})
	case "explore":
		n, _, err := countAndWords(args)
		if err != nil {
			return cmd, fmt.Errorf("explore: %w", err)
		}
		safe := lo.Contains(lo.Map(args, func(a string, _ int) string { return strings.ToLower(a) }), "safe")
		g = goal.New(goal.KindExplore, goal.ExploreParams{Radius: n, Safe: safe})
	case "eat":
		g = goal.New(goal.KindFindFood, goal.FindFoodParams{})
	case "do":
		if len(args) == 0 {
			return cmd, fmt.Errorf("usage: do <what>")
		}
		desc := strings.Join(args, " ")
		g = goal.New(FreeformKind, goal.GenericParams{Type: FreeformKind, Description: desc})
		g.Description = desc
	default:
		return cmd, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}
	g.Source = SourceCommand
	cmd.Goal = &g
	return cmd, nil
}

// countAndWords splits args into at most one positive count and the
// remaining words.
func countAndWords(args []string) (int, []string, error) {
	n := 0
	var words []string
	for _, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			if w := strings.ToLower(a); w != "safe" {
				words = append(words, w)
			}
			continue
		}
		if v <= 0 {
			return 0, nil, fmt.Errorf("count must be positive, got %d", v)
		}
		if n != 0 {
			return 0, nil, fmt.Errorf("more than one count given")
		}
		n = v
	}
	return n, words, nil
}

// Help lists the accepted commands.
func Help() string {
	return strings.Join([]string{
		"goto <x> <y> <z>     walk to a position",
		"follow <player> [d]  follow a player",
		"gather [n]           collect wood",
		"mine [block] [n]     mine blocks (stone by default)",
		"craft <tool...>      craft tools",
		"workbench            place a crafting table",
		"build <thing> [size] build a structure",
		"explore [radius]     explore (add 'safe' to avoid danger)",
		"eat                  find and eat food",
		"do <text>            free-form request",
		"stop                 drop the current task and queue",
		"status | history [n] | stats | coord | help",
	}, "\n")
}
