package interpolation

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnsupportedMethod is returned for an interpolation method outside the known set
var ErrUnsupportedMethod = errors.New("unsupported interpolation method")

// Method selects the B-spline order used when resampling
type Method int

const (
	Nearest Method = iota
	Linear
	Quadratic
	Cubic
)

var methodNames = map[Method]string{
	Nearest:   "nearest",
	Linear:    "linear",
	Quadratic: "quadratic",
	Cubic:     "cubic",
}

// ParseMethod maps a method name to its Method, ignoring case and surrounding spaces
func ParseMethod(name string) (Method, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for m, n := range methodNames {
		if n == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, name)
}

// Valid reports whether m is one of the four known methods
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// Order returns the spline order (0-3) of the method
func (m Method) Order() int {
	return int(m)
}

func (m Method) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// UnmarshalYAML rejects unknown method names while the configuration is loaded
func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	parsed, err := ParseMethod(name)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*m = parsed
	return nil
}

// MarshalYAML writes the method by name
func (m Method) MarshalYAML() (interface{}, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedMethod, int(m))
	}
	return m.String(), nil
}
