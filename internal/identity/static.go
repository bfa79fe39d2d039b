package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// DemoDirectory is the built-in subscriber table used when no directory
// file or remote oracle is configured.
var DemoDirectory = map[string]Owner{
	"9876543210": {Name: "Rahul Sharma", SimAgeDays: 1200},
	"9123456789": {Name: "Priya Patel", SimAgeDays: 730},
	"9988776655": {Name: "Amit Kumar", SimAgeDays: 15},
	"8888888888": {Name: "Vikram Malhotra", SimAgeDays: 400},
	"7000000001": {Name: "Sneha Reddy", SimAgeDays: 5},
}

// StaticOracle answers from an in-memory directory. Unlisted numbers get
// owner "Unknown" with a zero SIM age, which is an answer, not a failure.
type StaticOracle struct {
	owners map[string]Owner
}

// NewStaticOracle copies owners into a new oracle.
func NewStaticOracle(owners map[string]Owner) *StaticOracle {
	m := make(map[string]Owner, len(owners))
	for k, v := range owners {
		m[k] = v
	}
	return &StaticOracle{owners: m}
}

// LoadStaticOracle reads a JSON directory file of the form
// {"9876543210": {"owner": "Rahul Sharma", "sim_age": 1200}}.
func LoadStaticOracle(path string) (*StaticOracle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read telecom directory: %w", err)
	}
	var owners map[string]Owner
	if err := json.Unmarshal(raw, &owners); err != nil {
		return nil, fmt.Errorf("parse telecom directory %s: %w", path, err)
	}
	return NewStaticOracle(owners), nil
}

// Lookup implements Oracle.
func (o *StaticOracle) Lookup(ctx context.Context, mobile string) (*Owner, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if owner, ok := o.owners[mobile]; ok {
		return &owner, nil
	}
	return &Owner{Name: UnknownOwner, SimAgeDays: 0}, nil
}
