package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadLedger merges --month flags over the YAML file; a flag wins for a
// month present in both.
func loadLedger(entries []string, file string) (map[string]float64, error) {
	amounts := make(map[string]float64)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		var raw map[string]float64
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse ledger %s: %w", file, err)
		}
		for month, amt := range raw {
			key, err := monthKey(month)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			amounts[key] += amt
		}
	}

	for _, e := range entries {
		month, value, ok := strings.Cut(e, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --month %q (expected YYYY-MM=AMOUNT)", e)
		}
		key, err := monthKey(month)
		if err != nil {
			return nil, err
		}
		amt, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in --month %q: %w", e, err)
		}
		amounts[key] = amt
	}

	if len(amounts) == 0 {
		return nil, errors.New("no ledger entries: pass --month or --file")
	}
	return amounts, nil
}

func monthKey(s string) (string, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid month %q (expected YYYY-MM)", s)
	}
	return t.Format("2006-01"), nil
}
