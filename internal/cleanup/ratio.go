// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package cleanup

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

var ratioExprRegexp = regexp.MustCompile(`^(<=|>=|<|>)((?:[0-9]*[.])?[0-9]+)$`)

// RatioRule is a parsed ratio comparison expression such as "<1.0" or ">=2".
type RatioRule struct {
	Qualifier string
	Threshold float64
}

// ParseRatioRule parses a ratio expression. An empty expression returns a nil
// rule, which disables the ratio filter.
func ParseRatioRule(expr string) (*RatioRule, error) {
	if expr == "" {
		return nil, nil
	}

	caps := ratioExprRegexp.FindStringSubmatch(expr)
	if caps == nil {
		return nil, errors.Errorf("invalid ratio expression %q, expected e.g. \"<1.0\" or \">=2\"", expr)
	}

	threshold, err := strconv.ParseFloat(caps[2], 64)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ratio threshold %q", caps[2])
	}

	return &RatioRule{Qualifier: caps[1], Threshold: threshold}, nil
}

// Matches reports whether ratio satisfies the comparison. An unknown ratio,
// modeled as a negative value, never matches.
func (r *RatioRule) Matches(ratio float64) bool {
	if ratio < 0 {
		return false
	}

	switch r.Qualifier {
	case "<":
		return ratio < r.Threshold
	case "<=":
		return ratio <= r.Threshold
	case ">":
		return ratio > r.Threshold
	case ">=":
		return ratio >= r.Threshold
	default:
		return false
	}
}
