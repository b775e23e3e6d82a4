package main

import (
	"fmt"
	"strconv"
	"time"
)

// parseDateFlag parses a YYYY-MM-DD flag value.
func parseDateFlag(name, value string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", name, value)
	}
	return d, nil
}

// parseIDArg parses a positional numeric ID argument.
func parseIDArg(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid ID %q, expected a positive number", arg)
	}
	return uint(id), nil
}

func formatEnd(end *time.Time) string {
	if end == nil {
		return "-"
	}
	return end.Format(time.DateOnly)
}
