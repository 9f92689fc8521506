package template

import (
	"fmt"
	"regexp"
	"strings"
)

// ParameterRejectedError reports a captured value that failed type
// validation or carried an injection signature. The raw value is kept for
// the audit trail, never for re-substitution.
type ParameterRejectedError struct {
	TemplateID string
	Name       string
	Value      string
	Reason     string
}

func (e *ParameterRejectedError) Error() string {
	return fmt.Sprintf("template %s: parameter %q rejected: %s", e.TemplateID, e.Name, e.Reason)
}

var (
	numberValuePattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	dateValuePattern   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([ T]\d{2}:\d{2}(:\d{2})?)?$`)
)

// Fill substitutes the captured parameters into the template body. Every
// value is validated against its declared type and screened for injection
// signatures before any substitution happens, so a rejected value never
// touches the SQL.
func Fill(m Match) (string, error) {
	t := m.Template
	for _, param := range t.Parameters {
		value, ok := m.Params[param.Name]
		if !ok {
			return "", &ParameterRejectedError{
				TemplateID: t.ID, Name: param.Name,
				Reason: "no value captured",
			}
		}
		if err := validateValue(t, param, value); err != nil {
			return "", err
		}
	}

	sql := t.SQL
	for _, param := range t.Parameters {
		sql = strings.ReplaceAll(sql, "{"+param.Name+"}", m.Params[param.Name])
	}
	if leftover := placeholderPattern.FindString(sql); leftover != "" {
		return "", fmt.Errorf("template %s: unresolved placeholder %s", t.ID, leftover)
	}
	return sql, nil
}

func validateValue(t *Template, param Parameter, value string) error {
	reject := func(reason string) error {
		return &ParameterRejectedError{TemplateID: t.ID, Name: param.Name, Value: value, Reason: reason}
	}

	switch param.Type {
	case ParamNumber:
		if !numberValuePattern.MatchString(strings.TrimSpace(value)) {
			return reject("not a number")
		}
		return nil
	case ParamDate:
		if !dateValuePattern.MatchString(strings.TrimSpace(value)) {
			return reject("not a date")
		}
		return nil
	case ParamEnum:
		for _, allowed := range param.Enum {
			if strings.EqualFold(value, allowed) {
				return nil
			}
		}
		return reject(fmt.Sprintf("not one of %s", strings.Join(param.Enum, ", ")))
	case ParamString:
		if reason := injectionSignature(value); reason != "" {
			return reject(reason)
		}
		return nil
	default:
		return reject(fmt.Sprintf("unknown parameter type %q", param.Type))
	}
}

// injectionSignature returns a non-empty reason when a string value looks
// like an injection attempt rather than data.
func injectionSignature(value string) string {
	if strings.ContainsAny(value, ";") {
		return "contains a statement separator"
	}
	if strings.Contains(value, "--") {
		return "contains a comment sequence"
	}
	if strings.Contains(value, "/*") || strings.Contains(value, "*/") {
		return "contains a comment sequence"
	}
	if strings.Count(value, "'")%2 != 0 {
		return "unbalanced quote"
	}
	lower := strings.ToLower(value)
	for _, signature := range []string{"union select", "union all select", " or '", " or 1=1", "drop table", "drop database", "insert into", "delete from", "update ", "exec ", "execute "} {
		if strings.Contains(lower, signature) {
			return fmt.Sprintf("contains %q", strings.TrimSpace(signature))
		}
	}
	return ""
}
