// Troupe - Realtime Community and Event Platform
// Copyright 2026 Troupe contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/troupehq/troupe

package eventsync

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/troupehq/troupe/internal/models"
)

// Validator checks candidate events before they reach the store.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds the shared validator instance.
func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Check runs struct-tag validation plus semantic rules the tags cannot
// express. It returns every reason at once so a rejected candidate is
// diagnosable from the run statistics alone.
func (v *Validator) Check(c models.EventCandidate) (bool, []string) {
	var reasons []string

	if err := v.validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				reasons = append(reasons, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
			}
		} else {
			reasons = append(reasons, err.Error())
		}
	}

	if !c.EndsAt.IsZero() && c.EndsAt.Before(c.StartsAt) {
		reasons = append(reasons, "EndsAt precedes StartsAt")
	}
	if c.PriceMax > 0 && c.PriceMax < c.PriceMin {
		reasons = append(reasons, "PriceMax below PriceMin")
	}
	if !c.StartsAt.IsZero() && c.StartsAt.Before(time.Now().Add(-24*time.Hour)) {
		reasons = append(reasons, "StartsAt already passed")
	}

	return len(reasons) == 0, reasons
}
