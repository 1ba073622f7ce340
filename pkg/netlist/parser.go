package netlist

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

type AnalysisType int

const (
	AnalysisPF AnalysisType = iota
	AnalysisSweep
	AnalysisDispatch
)

func (a AnalysisType) String() string {
	switch a {
	case AnalysisPF:
		return ".pf"
	case AnalysisSweep:
		return ".sweep"
	case AnalysisDispatch:
		return ".dispatch"
	}
	return fmt.Sprintf("AnalysisType(%d)", int(a))
}

var ErrSyntax = errors.New("deck syntax error")

// Deck is a parsed case deck. Analyses keeps the order the dot cards
// appeared in, a deck without any runs a single power flow.
type Deck struct {
	Title    string
	Case     *network.Case
	Analyses []AnalysisType
	PFParam  struct {
		Tolerance     float64 // 0 means default
		MaxIterations int     // negative means default, 0 only evaluates
		VoltageFloor  float64 // 0 means default
	}
	SweepParam struct {
		Start float64 // load scaling factors
		Stop  float64
		Step  float64
	}
}

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"M":   1e-3,  // milli, as in SPICE
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

var (
	valuePattern = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)(meg|[TGMKkmunpf])?$`)
	spacePattern = regexp.MustCompile(`\s+`)
)

func ParseFile(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deck: %w", err)
	}
	return Parse(string(data))
}

// Parse reads a deck. The first line is the title. '*' starts a comment
// anywhere on a line and a leading '+' continues the previous card.
func Parse(input string) (*Deck, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	deck := &Deck{Case: &network.Case{}}
	deck.PFParam.MaxIterations = -1

	// Title or comment
	if scanner.Scan() {
		deck.Title = strings.TrimPrefix(scanner.Text(), "*")
		deck.Title = strings.TrimSpace(deck.Title)
	}

	var currentLine string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if idx := strings.Index(line, "*"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if len(line) == 0 {
			continue
		}

		if strings.HasPrefix(line, "+") {
			if currentLine == "" {
				return nil, fmt.Errorf("%w: continuation without a card: %q", ErrSyntax, line)
			}
			currentLine += " " + strings.TrimSpace(line[1:])
			continue
		}

		if currentLine != "" {
			if err := parseLine(deck, currentLine); err != nil {
				return nil, err
			}
		}
		currentLine = line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning deck: %w", err)
	}

	if currentLine != "" {
		if err := parseLine(deck, currentLine); err != nil {
			return nil, err
		}
	}

	if len(deck.Analyses) == 0 {
		deck.Analyses = []AnalysisType{AnalysisPF}
	}

	deck.Case.Name = deck.Title
	deck.Case.SortBuses()
	if err := deck.Case.Validate(); err != nil {
		return nil, err
	}
	return deck, nil
}

func parseLine(deck *Deck, line string) error {
	line = spacePattern.ReplaceAllString(line, " ")

	if strings.HasPrefix(line, ".") {
		return parseDotOperator(deck, line)
	}

	fields := strings.Fields(line)
	var err error
	switch strings.ToUpper(fields[0]) {
	case "BUS":
		err = parseBus(deck.Case, fields[1:])
	case "BRANCH":
		err = parseBranch(deck.Case, fields[1:])
	case "GEN":
		err = parseGenerator(deck.Case, fields[1:])
	default:
		err = fmt.Errorf("%w: unknown card %s", ErrSyntax, fields[0])
	}
	if err != nil {
		return fmt.Errorf("%q: %w", line, err)
	}
	return nil
}

// Parse .pf, .sweep, .dispatch
func parseDotOperator(deck *Deck, line string) error {
	fields := strings.Fields(line)

	var analysis AnalysisType
	switch strings.ToLower(fields[0]) {
	case ".pf", ".op":
		analysis = AnalysisPF
		params, err := parseParams(fields[1:], "tol", "maxiter", "vfloor")
		if err != nil {
			return fmt.Errorf("%s: %w", fields[0], err)
		}
		if maxIter, ok := params["maxiter"]; ok {
			if maxIter < 0 || maxIter != math.Trunc(maxIter) {
				return fmt.Errorf("%w: %s maxiter must be a non-negative integer, got %g", ErrSyntax, fields[0], maxIter)
			}
			deck.PFParam.MaxIterations = int(maxIter)
		}
		deck.PFParam.Tolerance = params["tol"]
		deck.PFParam.VoltageFloor = params["vfloor"]

	case ".sweep":
		analysis = AnalysisSweep
		params, err := parseParams(fields[1:], "start", "stop", "step")
		if err != nil {
			return fmt.Errorf(".sweep: %w", err)
		}
		for _, key := range []string{"stop", "step"} {
			if _, ok := params[key]; !ok {
				return fmt.Errorf("%w: .sweep needs %s=", ErrSyntax, key)
			}
		}
		deck.SweepParam.Start = params["start"]
		deck.SweepParam.Stop = params["stop"]
		deck.SweepParam.Step = params["step"]
		if deck.SweepParam.Step <= 0 || deck.SweepParam.Stop < deck.SweepParam.Start {
			return fmt.Errorf("%w: .sweep start=%g stop=%g step=%g", ErrSyntax,
				deck.SweepParam.Start, deck.SweepParam.Stop, deck.SweepParam.Step)
		}

	case ".dispatch":
		analysis = AnalysisDispatch

	case ".end":
		return nil

	default:
		return fmt.Errorf("%w: unsupported analysis type: %s", ErrSyntax, fields[0])
	}

	for _, a := range deck.Analyses {
		if a == analysis {
			return nil
		}
	}
	deck.Analyses = append(deck.Analyses, analysis)
	return nil
}

// BUS <id> <slack|pv|pq> [pd= qd= pg= qg= vm= va=]
func parseBus(c *network.Case, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("%w: BUS needs an id and a type", ErrSyntax)
	}
	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("%w: bus id %s", ErrSyntax, fields[0])
	}
	typ, err := network.ParseBusType(fields[1])
	if err != nil {
		return err
	}
	params, err := parseParams(fields[2:], "pd", "qd", "pg", "qg", "vm", "va")
	if err != nil {
		return err
	}

	c.Buses = append(c.Buses, network.Bus{
		ID:   id,
		Type: typ,
		Pd:   params["pd"],
		Qd:   params["qd"],
		Pg:   params["pg"],
		Qg:   params["qg"],
		Vm:   params["vm"],
		Va:   params["va"],
	})
	return nil
}

// BRANCH <from> <to> r= x=
func parseBranch(c *network.Case, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("%w: BRANCH needs two bus ids", ErrSyntax)
	}
	from, errFrom := strconv.Atoi(fields[0])
	to, errTo := strconv.Atoi(fields[1])
	if errFrom != nil || errTo != nil {
		return fmt.Errorf("%w: branch ends %s %s", ErrSyntax, fields[0], fields[1])
	}
	params, err := parseParams(fields[2:], "r", "x")
	if err != nil {
		return err
	}

	c.Branches = append(c.Branches, network.Branch{From: from, To: to, R: params["r"], X: params["x"]})
	return nil
}

// GEN <bus> pmin= pmax= cost=
func parseGenerator(c *network.Case, fields []string) error {
	if len(fields) < 1 {
		return fmt.Errorf("%w: GEN needs a bus id", ErrSyntax)
	}
	bus, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("%w: generator bus %s", ErrSyntax, fields[0])
	}
	params, err := parseParams(fields[1:], "pmin", "pmax", "cost")
	if err != nil {
		return err
	}

	c.Generators = append(c.Generators, network.Generator{
		Bus:  bus,
		Pmin: params["pmin"],
		Pmax: params["pmax"],
		Cost: params["cost"],
	})
	return nil
}

// parseParams reads key=value fields, rejecting keys not in allowed.
func parseParams(fields []string, allowed ...string) (map[string]float64, error) {
	params := make(map[string]float64, len(fields))
	for _, field := range fields {
		key, raw, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected key=value, got %s", ErrSyntax, field)
		}
		key = strings.ToLower(key)

		known := false
		for _, a := range allowed {
			if key == a {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: unknown parameter %s", ErrSyntax, key)
		}

		value, err := ParseValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		params[key] = value
	}
	return params, nil
}

// ParseValue - Parse value and factor. 30m -> 0.03
func ParseValue(val string) (float64, error) {
	matches := valuePattern.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("%w: invalid value format: %s", ErrSyntax, val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	// factor
	if matches[2] != "" {
		num *= unitMap[matches[2]]
	}

	return num, nil
}
