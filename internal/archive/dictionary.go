// Package archive stores snapshots of the lock loop as zip bundles: a
// tab-separated parameter dictionary, the traces as CSV and a PNG plot.
package archive

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"transfer_cavity_lock/internal/lock"
)

// ErrMalformed is returned for dictionary lines that cannot be parsed.
var ErrMalformed = errors.New("malformed dictionary")

// Type tags written in the third column.
const (
	TagFloat    = "float64"
	TagInt      = "int"
	TagBool     = "bool"
	TagString   = "string"
	TagDuration = "duration"
)

// WriteDictionary writes one "name<TAB>value<TAB>type" line per entry.
func WriteDictionary(w io.Writer, entries []lock.NamedValue) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if strings.ContainsAny(e.Name, "\t\n") {
			return fmt.Errorf("%w: name %q", ErrMalformed, e.Name)
		}
		value, tag, err := encode(e.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%s\n", e.Name, value, tag); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadDictionary parses a dictionary written by WriteDictionary. Values come
// back typed by their tag.
func LoadDictionary(r io.Reader) (map[string]any, error) {
	out := make(map[string]any)
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrMalformed, n, len(parts))
		}
		v, err := decode(parts[1], parts[2])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, n, err)
		}
		out[parts[0]] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func encode(v any) (string, string, error) {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), TagFloat, nil
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32), TagFloat, nil
	case int:
		return strconv.Itoa(x), TagInt, nil
	case int64:
		return strconv.FormatInt(x, 10), TagInt, nil
	case bool:
		return strconv.FormatBool(x), TagBool, nil
	case time.Duration:
		return x.String(), TagDuration, nil
	case string:
		if strings.ContainsAny(x, "\t\n") {
			return "", "", fmt.Errorf("%w: value %q", ErrMalformed, x)
		}
		return x, TagString, nil
	case fmt.Stringer:
		return encode(x.String())
	}
	return "", "", fmt.Errorf("unsupported value type %T", v)
}

func decode(value, tag string) (any, error) {
	switch tag {
	case TagFloat:
		return strconv.ParseFloat(value, 64)
	case TagInt:
		return strconv.ParseInt(value, 10, 64)
	case TagBool:
		return strconv.ParseBool(value)
	case TagDuration:
		return time.ParseDuration(value)
	case TagString:
		return value, nil
	}
	return nil, fmt.Errorf("unknown type tag %q", tag)
}
