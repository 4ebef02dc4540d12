package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dialogkit/dialogkit/pkg/actions"
	"github.com/dialogkit/dialogkit/pkg/config"
)

// demoConfig is used when no configuration directory exists: a flight
// booking flow and a balance check, enough to exercise interruption and
// resumption from the CLI.
func demoConfig() *config.Config {
	flows := map[string]*config.FlowDefinition{
		"book_flight": {
			Name:        "book_flight",
			Description: "Book a flight",
			Triggers:    config.TriggerConfig{Keywords: []string{"flight", "book"}},
			Slots: []config.SlotDef{
				{Name: "origin", Prompt: "Where are you flying from?", Validator: "known_city"},
				{Name: "destination", Prompt: "Where to?", Validator: "known_city"},
				{Name: "date", Prompt: "When would you like to travel?", Normalizer: "normalize_date"},
			},
			Steps: []config.StepDef{
				{ID: "collect_origin", Kind: config.StepCollect, Slot: "origin"},
				{ID: "collect_destination", Kind: config.StepCollect, Slot: "destination"},
				{ID: "collect_date", Kind: config.StepCollect, Slot: "date"},
				{ID: "book", Kind: config.StepAction, Call: "confirm_flight_booking",
					Inputs:  map[string]string{"origin": "origin", "destination": "destination", "date": "date"},
					Outputs: map[string]string{"confirmation": "confirmation"}},
				{ID: "done", Kind: config.StepSay, Text: "{confirmation}"},
			},
		},
		"check_balance": {
			Name:        "check_balance",
			Description: "Check an account balance",
			Triggers:    config.TriggerConfig{Keywords: []string{"balance"}},
			Slots: []config.SlotDef{
				{Name: "account_type", Prompt: "Which account, checking or savings?"},
			},
			Steps: []config.StepDef{
				{ID: "ask", Kind: config.StepCollect, Slot: "account_type"},
				{ID: "fetch", Kind: config.StepAction, Call: "get_balance",
					Inputs:  map[string]string{"account_type": "account_type"},
					Outputs: map[string]string{"balance": "balance"}},
				{ID: "tell", Kind: config.StepSay, Text: "Your {account_type} balance is {balance}."},
			},
		},
	}
	return &config.Config{
		Runtime: config.DefaultRuntimeConfig(),
		Flows:   config.NewFlowRegistry(flows),
	}
}

var demoCities = map[string]bool{
	"amsterdam": true, "berlin": true, "boston": true, "chicago": true,
	"london": true, "los angeles": true, "new york": true, "paris": true,
	"prague": true, "tokyo": true,
}

func demoActions() *actions.Registry {
	reg := actions.NewRegistry()
	reg.Register(&actions.Action{
		Name:    "confirm_flight_booking",
		Inputs:  []string{"origin", "destination", "date"},
		Outputs: []string{"confirmation"},
		Handler: func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			return map[string]any{
				"confirmation": fmt.Sprintf("Booked: %v to %v on %v.",
					inputs["origin"], inputs["destination"], inputs["date"]),
			}, nil
		},
	})
	reg.Register(&actions.Action{
		Name:    "get_balance",
		Inputs:  []string{"account_type"},
		Outputs: []string{"balance"},
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"balance": "$12,000"}, nil
		},
	})
	reg.Register(&actions.Action{
		Name: "handoff_to_agent",
		Handler: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"ticket": "DEMO-1"}, nil
		},
	})
	return reg
}

func demoValidators() *actions.ValidatorRegistry {
	reg := actions.NewValidatorRegistry()
	reg.Register("known_city", func(value any) error {
		s, ok := value.(string)
		if !ok {
			return errors.New("expected a city name")
		}
		if !demoCities[strings.ToLower(strings.TrimSpace(s))] {
			return &actions.ValidationError{Reason: fmt.Sprintf("%q is not a city I know", s)}
		}
		return nil
	})
	return reg
}

func demoNormalizers() *actions.NormalizerRegistry {
	reg := actions.NewNormalizerRegistry()
	reg.Register("normalize_date", func(value any) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, errors.New("expected a date string")
		}
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "next "), nil
	})
	return reg
}
