package engine

import (
	"encoding/json"
	"fmt"
)

// Direction is one of the four moves a player can make.
type Direction int

const (
	Right Direction = iota
	Up
	Left
	Down
)

var directionNames = map[Direction]string{
	Right: "Right",
	Up:    "Up",
	Left:  "Left",
	Down:  "Down",
}

// ParseDirection maps a wire-format name to a Direction.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// MarshalJSON encodes the direction as its wire name, e.g. "Left".
func (d Direction) MarshalJSON() ([]byte, error) {
	name, ok := directionNames[d]
	if !ok {
		return nil, fmt.Errorf("cannot marshal direction %d", int(d))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire name into a Direction.
func (d *Direction) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseDirection(name)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
