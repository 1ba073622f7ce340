package network

import (
	"fmt"
)

// Validate checks the topology before it reaches the solver. Bus ids must
// be dense and in list order (Buses[k].ID == k+1), which is what Load
// produces after sorting.
func (c *Case) Validate() error {
	n := len(c.Buses)
	if n == 0 {
		return ErrEmptyNetwork
	}

	seen := make(map[int]bool, n)
	for k, bus := range c.Buses {
		if seen[bus.ID] {
			return fmt.Errorf("%w: %d", ErrDuplicateBus, bus.ID)
		}
		seen[bus.ID] = true
		if bus.ID != k+1 {
			return fmt.Errorf("%w: bus at position %d has id %d, want %d", ErrBusOutOfRange, k, bus.ID, k+1)
		}
	}

	if _, err := c.SlackIndex(); err != nil {
		return err
	}

	for i, br := range c.Branches {
		if err := checkBranch(br, n); err != nil {
			return fmt.Errorf("branch %d: %w", i+1, err)
		}
	}

	for i, gen := range c.Generators {
		if gen.Bus < 1 || gen.Bus > n {
			return fmt.Errorf("generator %d: %w: %d", i+1, ErrBusOutOfRange, gen.Bus)
		}
		if gen.Pmin > gen.Pmax {
			return fmt.Errorf("generator %d: %w (%g > %g)", i+1, ErrInvalidGenLimit, gen.Pmin, gen.Pmax)
		}
	}

	return nil
}

func checkBranch(br Branch, n int) error {
	if br.From < 1 || br.From > n || br.To < 1 || br.To > n {
		return fmt.Errorf("%w: %d-%d (buses 1..%d)", ErrBusOutOfRange, br.From, br.To, n)
	}
	if br.R == 0 && br.X == 0 {
		return fmt.Errorf("%w: %d-%d", ErrZeroImpedance, br.From, br.To)
	}
	return nil
}

// RequireSlackFirst fails unless exactly one slack exists and it sits at
// index 0.
func RequireSlackFirst(types []BusType) error {
	slack := -1
	for i, t := range types {
		if t != Slack {
			continue
		}
		if slack >= 0 {
			return fmt.Errorf("%w: indices %d and %d", ErrMultipleSlack, slack, i)
		}
		slack = i
	}
	switch {
	case slack < 0:
		return ErrNoSlack
	case slack != 0:
		return fmt.Errorf("%w: found at index %d", ErrSlackNotFirst, slack)
	}
	return nil
}
