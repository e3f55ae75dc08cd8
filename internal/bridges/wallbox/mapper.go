package wallbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// maxCommandValue bounds numeric parameters substituted into templates.
const maxCommandValue = 999999

// RouteKind tags the variant held by a Route.
type RouteKind int

// Route variants.
const (
	RouteLiteral RouteKind = iota + 1
	RouteTemplate
	RouteBatch
)

// Route resolves to device commands. It is a tagged variant: exactly one of
// Command, Format or Commands is meaningful, selected by Kind.
type Route struct {
	Kind     RouteKind
	Command  string   // RouteLiteral
	Format   string   // RouteTemplate, one %d verb for the numeric parameter
	Commands []string // RouteBatch, dispatched in order
}

// Literal returns a route producing a fixed command.
func Literal(cmd string) Route {
	return Route{Kind: RouteLiteral, Command: cmd}
}

// Template returns a route that substitutes a validated number into format.
func Template(format string) Route {
	return Route{Kind: RouteTemplate, Format: format}
}

// Batch returns a route producing an ordered list of commands.
func Batch(cmds ...string) Route {
	return Route{Kind: RouteBatch, Commands: cmds}
}

// resolve produces the commands for this route. param is only used by
// templates; an invalid parameter yields nil.
func (r Route) resolve(param string) []string {
	switch r.Kind {
	case RouteLiteral:
		return []string{r.Command}
	case RouteTemplate:
		n, ok := parseNumeric(param)
		if !ok {
			return nil
		}
		return []string{fmt.Sprintf(r.Format, n)}
	case RouteBatch:
		return append([]string(nil), r.Commands...)
	default:
		return nil
	}
}

// TopicRoute holds the payload patterns accepted on one topic suffix.
// Lookup order is Keywords, Actions, Value, Any.
type TopicRoute struct {
	// Keywords match the whole payload (case-insensitive).
	Keywords map[string]Route

	// Actions match "action/value" payloads; value feeds a template.
	Actions map[string]Route

	// Value treats the whole payload as the template parameter.
	Value *Route

	// Any matches every payload not matched above.
	Any *Route
}

// Mapper maps (topic suffix, payload) pairs to device commands.
// It is immutable after construction and safe for concurrent use.
type Mapper struct {
	routes map[string]TopicRoute
}

// NewMapper creates a mapper over routes. Suffix and keyword keys are
// normalised to lower case.
func NewMapper(routes map[string]TopicRoute) *Mapper {
	m := &Mapper{routes: make(map[string]TopicRoute, len(routes))}
	for suffix, tr := range routes {
		m.routes[strings.ToLower(suffix)] = TopicRoute{
			Keywords: lowerKeys(tr.Keywords),
			Actions:  lowerKeys(tr.Actions),
			Value:    tr.Value,
			Any:      tr.Any,
		}
	}
	return m
}

// Map returns the commands for suffix and payload, or nil when nothing
// matches. It never panics.
func (m *Mapper) Map(suffix, payload string) []string {
	tr, ok := m.routes[strings.ToLower(strings.Trim(suffix, "/"))]
	if !ok {
		return nil
	}

	p := strings.TrimSpace(payload)
	key := strings.ToLower(p)

	if r, ok := tr.Keywords[key]; ok {
		return r.resolve("")
	}

	if action, value, found := strings.Cut(key, "/"); found {
		if r, ok := tr.Actions[action]; ok {
			return r.resolve(value)
		}
		return nil
	}

	if tr.Value != nil {
		if cmds := tr.Value.resolve(p); cmds != nil {
			return cmds
		}
	}

	if tr.Any != nil {
		return tr.Any.resolve(p)
	}

	return nil
}

// Suffixes returns the topic suffixes the mapper understands, sorted.
func (m *Mapper) Suffixes() []string {
	out := make([]string, 0, len(m.routes))
	for s := range m.routes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SubscriptionSuffixes returns the topic filters needed to receive every
// routed suffix. All "set/..." suffixes collapse into "set/+".
func (m *Mapper) SubscriptionSuffixes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range m.Suffixes() {
		if strings.HasPrefix(s, setPrefix) {
			s = setPrefix + "+"
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// parseNumeric accepts a non-negative decimal integer or float and truncates
// it toward zero. Signs, exponents, hex, NaN and infinities are rejected.
func parseNumeric(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	dot := false
	digits := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return 0, false
		}
	}
	if digits == 0 {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	n := int64(math.Trunc(f))
	if n > maxCommandValue {
		return 0, false
	}
	return n, true
}

func lowerKeys(in map[string]Route) map[string]Route {
	if in == nil {
		return nil
	}
	out := make(map[string]Route, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func routePtr(r Route) *Route {
	return &r
}

// RefreshCommands is the batch sent for a refresh: every monitored index,
// then the settings and app data dumps.
func RefreshCommands() []string {
	cmds := make([]string, 0, len(Fields)+2)
	for _, f := range Fields {
		cmds = append(cmds, ReadIndexCommand(f.Index))
	}
	return append(cmds, CmdReadSettings, CmdReadAppData)
}

const setPrefix = "set/"

// DefaultRoutes returns the route table for the dashboard vocabulary
// (set/...) and the legacy topics (dpm, charge, limit, read).
func DefaultRoutes() map[string]TopicRoute {
	readUser := Literal(ReadIndexCommand(IndexUserLimit))
	readSafe := Literal(ReadIndexCommand(IndexSafeLimit))
	readDPM := Literal(ReadIndexCommand(IndexDPMLimit))

	writeUser := Template(writeIndexPrefix + strconv.Itoa(IndexUserLimit) + ",%d\n")
	writeSafe := Template(writeIndexPrefix + strconv.Itoa(IndexSafeLimit) + ",%d\n")
	writeDPM := Template(writeIndexPrefix + strconv.Itoa(IndexDPMLimit) + ",%d\n")

	dpmOn := Literal(WriteIndexCommand(IndexDPMMode, 1))
	dpmOff := Literal(WriteIndexCommand(IndexDPMMode, 0))
	start := Literal(ChargeCommand(true, 0))
	stop := Literal(ChargeCommand(false, 0))

	return map[string]TopicRoute{
		// Dashboard entities.
		"set/dpm":          {Keywords: map[string]Route{"on": dpmOn, "off": dpmOff}},
		"set/charge":       {Keywords: map[string]Route{"on": start, "off": stop}},
		"set/user_limit":   {Value: routePtr(writeUser)},
		"set/safe_limit":   {Value: routePtr(writeSafe)},
		"set/dpm_limit":    {Value: routePtr(writeDPM)},
		"set/refresh":      {Any: routePtr(Batch(RefreshCommands()...))},
		"set/start_charge": {Any: routePtr(start)},
		"set/stop_charge":  {Any: routePtr(stop)},
		"set/read_voltage": {Any: routePtr(Literal(CmdReadSupplyVoltage))},

		// Legacy topics.
		"dpm": {
			Keywords: map[string]Route{
				"on":     dpmOn,
				"off":    dpmOff,
				"limit":  readDPM,
				"status": Literal(ReadIndexCommand(IndexDPMMode)),
			},
			Actions: map[string]Route{"limit": writeDPM},
		},
		"charge": {
			Keywords: map[string]Route{"start": start, "stop": stop},
			Actions: map[string]Route{
				"start": Template("$CMD,CHARGE,START,%d\n"),
				"stop":  Template("$CMD,CHARGE,STOP,%d\n"),
			},
		},
		"limit": {
			Keywords: map[string]Route{"dpm": readDPM, "safe": readSafe, "user": readUser},
			Actions:  map[string]Route{"dpm": writeDPM, "safe": writeSafe, "user": writeUser},
		},
		"read": {
			Keywords: map[string]Route{
				"manufacturing": Literal(CmdReadManufacturing),
				"settings":      Literal(CmdReadSettings),
				"app_data":      Literal(CmdReadAppData),
				"hw_settings":   Literal(CmdReadHWSettings),
				"voltage":       Literal(CmdReadSupplyVoltage),
				"alarms":        Literal(CmdReadAlarms),
				"sessions":      Literal(CmdReadSessions),
			},
		},
	}
}

var defaultMapper = NewMapper(DefaultRoutes())

// MapCommand maps suffix and payload using the default route table.
func MapCommand(suffix, payload string) []string {
	return defaultMapper.Map(suffix, payload)
}
