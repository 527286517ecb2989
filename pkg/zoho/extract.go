package zoho

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Extractor evaluates JMESPath expressions against decoded API responses,
// caching compiled expressions.
type Extractor struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*jmespath.JMESPath)}
}

func (e *Extractor) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// String returns the expression result as a string, or "" when absent.
func (e *Extractor) String(expression string, data any) (string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return "", err
	}
	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return fmt.Sprintf("%.0f", v), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Bool returns the expression result as a bool; anything but true is false.
func (e *Extractor) Bool(expression string, data any) (bool, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return false, err
	}
	v, _ := result.(bool)
	return v, nil
}

// Int returns a numeric expression result. ok is false when the value is absent.
func (e *Extractor) Int(expression string, data any) (value int, ok bool, err error) {
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return 0, false, err
	}
	switch v := result.(type) {
	case float64:
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("cannot convert %T to int", result)
	}
}

// Slice returns a list result. A missing list is empty.
func (e *Extractor) Slice(expression string, data any) ([]any, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil || result == nil {
		return nil, err
	}
	slice, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("expression %q is %T, not a list", expression, result)
	}
	return slice, nil
}

func (e *Extractor) compile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()
	return compiled, nil
}
