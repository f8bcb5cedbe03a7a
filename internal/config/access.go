// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration for inconsistent values.
func (c *Config) Validate() error {
	var errs ValidateErrors
	if c.Chat.DefaultProvider == "" {
		errs = append(errs, ValidationError{"chat.default_provider", "must not be empty"})
	}
	if c.Model.MaxSubmissionTokens < 0 {
		errs = append(errs, ValidationError{"model.max_submission_tokens", "must not be negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DOT-NOTATION ACCESS
// =============================================================================

// Get returns a configuration value by dot-notation key, e.g.
// "chat.default_provider".
func (c *Config) Get(key string) (any, error) {
	field, err := c.fieldByKey(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value by dot-notation key. String inputs
// are converted to the field's type where possible.
func (c *Config) Set(key string, value any) error {
	field, err := c.fieldByKey(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set %s", key)
	}
	return setFieldValue(field, value)
}

// fieldByKey walks struct fields by their toml tags.
func (c *Config) fieldByKey(key string) (reflect.Value, error) {
	current := reflect.ValueOf(c).Elem()
	parts := strings.Split(key, ".")
	for i, part := range parts {
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", key)
		}
		next, ok := fieldByTag(current, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		current = next
	}
	return current, nil
}

func fieldByTag(v reflect.Value, tag string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
		if name == tag {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func setFieldValue(field reflect.Value, value any) error {
	val := reflect.ValueOf(value)
	if val.IsValid() && val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}

	// String inputs convert to the field's type.
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("cannot assign %T to %s", value, field.Type())
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q", s)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", s)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("expected a number, got %q", s)
		}
		field.SetFloat(f)
	default:
		return fmt.Errorf("cannot assign to %s", field.Type())
	}
	return nil
}
