// Config values that may live in the environment
package wos

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// If s has a $ prefix then the value is read from
// the upper cased env variable named by the rest of s.
// An unset or empty variable is an error.
//
// If there is no $ prefix then s is returned.
func Getenv(s string) (string, error) {
	if !strings.HasPrefix(s, "$") {
		return s, nil
	}
	name := strings.ToUpper(strings.TrimPrefix(s, "$"))
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("expected %s to be set", name)
	}
	return v, nil
}

func unquote(data []byte) ([]byte, bool) {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		return data[1 : len(data)-1], true
	}
	return data, false
}

type EnvString string

func (es *EnvString) UnmarshalJSON(data []byte) error {
	s, ok := unquote(data)
	if !ok {
		return fmt.Errorf("EnvString must be a JSON string. got: %.20s", data)
	}
	v, err := Getenv(string(s))
	if err != nil {
		return err
	}
	*es = EnvString(v)
	return nil
}

// Accepts 10, "10", or "$VAR"
type EnvInt int

func (ei *EnvInt) UnmarshalJSON(data []byte) error {
	s, _ := unquote(data)
	if len(s) == 0 {
		return fmt.Errorf("EnvInt must not be empty")
	}
	v, err := Getenv(string(s))
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("EnvInt %q is not an integer", v)
	}
	*ei = EnvInt(n)
	return nil
}
