// Package cron parses the tick cadence that drives the scheduler loop.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netarchivesuite/netarchivesuite-svngit-migration-sub000/internal/domain"
)

// Parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30s".
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse builds a Tick evaluated in the named timezone.
func (p *Parser) Parse(expression string, timezone string) (*Tick, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: tick schedule %q: %v", domain.ErrInvalidConfiguration, expression, err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: tick timezone %q: %v", domain.ErrInvalidConfiguration, timezone, err)
	}

	return &Tick{expression: expression, sched: sched, loc: loc}, nil
}

// Tick is a parsed cadence. It satisfies scheduler.TickSchedule.
type Tick struct {
	expression string
	sched      cron.Schedule
	loc        *time.Location
}

// Next returns the first tick strictly after after.
func (t *Tick) Next(after time.Time) time.Time {
	return t.sched.Next(after.In(t.loc))
}

func (t *Tick) String() string {
	return t.expression
}
