// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is shared by the server handlers and the client so both reject
// the same malformed submissions.
var Validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names rather than Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// FieldErrors maps a json field name to the failed validation tag
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "invalid fields: " + strings.Join(parts, ", ")
}

// Ok validates the request. It returns nil when the request is well formed.
func (r *SubmitChangeRequest) Ok() FieldErrors {
	errs := FieldErrors{}
	if err := Validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			errs["_"] = err.Error()
			return errs
		}
		for _, fe := range verrs {
			errs[fe.Field()] = fe.Tag()
		}
	}
	if len(r.ProposedData) > 0 && !json.Valid(r.ProposedData) {
		errs["proposed_data"] = "json"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Ok validates the signin request
func (r *SigninRequest) Ok() FieldErrors {
	err := Validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return FieldErrors{"_": err.Error()}
	}
	errs := FieldErrors{}
	for _, fe := range verrs {
		errs[fe.Field()] = fe.Tag()
	}
	return errs
}

func validationMessage(errs FieldErrors) string {
	return fmt.Sprintf("request failed validation (%s)", errs.Error())
}
