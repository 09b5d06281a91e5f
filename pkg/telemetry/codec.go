package telemetry

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// ErrMalformed is wrapped by every decode failure.
var ErrMalformed = errors.New("malformed telemetry payload")

// arrayArity is the number of elements in the positional wire form.
const arrayArity = 5

// maxExactFloat is the largest integer a float64 represents exactly.
const maxExactFloat = 1 << 53

// runnerIDKeys lists the accepted object keys for the runner id, in priority order.
// The first key present with a non-null value is used.
var runnerIDKeys = []string{"runner_id", "runnerId", "id"}

// Decode parses a raw payload into a Sample.
//
// fallbackTimestampMs is used when the payload carries no timestamp of its own,
// typically the broker-assigned timestamp of the message.
//
// Returns an error wrapping ErrMalformed if the payload is not valid JSON, is
// neither an array nor an object, has the wrong arity, or holds non-numeric fields.
func Decode(body []byte, fallbackTimestampMs int64) (Sample, error) {
	if !gjson.ValidBytes(body) {
		return Sample{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}

	root := gjson.ParseBytes(body)
	switch {
	case root.IsArray():
		return decodeArray(root, fallbackTimestampMs)
	case root.IsObject():
		return decodeObject(root, fallbackTimestampMs)
	default:
		return Sample{}, fmt.Errorf("%w: expected array or object, got %s", ErrMalformed, root.Type)
	}
}

func decodeArray(root gjson.Result, fallbackTimestampMs int64) (Sample, error) {
	elems := root.Array()
	if len(elems) != arrayArity {
		return Sample{}, fmt.Errorf("%w: expected %d elements, got %d", ErrMalformed, arrayArity, len(elems))
	}

	runnerID, err := integer(elems[0], "runnerId")
	if err != nil {
		return Sample{}, err
	}

	var floats [4]float64
	names := [4]string{"positionX", "positionY", "speedX", "speedY"}
	for i := range floats {
		if floats[i], err = number(elems[i+1], names[i]); err != nil {
			return Sample{}, err
		}
	}

	return Sample{
		RunnerID:    runnerID,
		PositionX:   floats[0],
		PositionY:   floats[1],
		SpeedX:      floats[2],
		SpeedY:      floats[3],
		TimestampMs: fallbackTimestampMs,
	}, nil
}

func decodeObject(root gjson.Result, fallbackTimestampMs int64) (Sample, error) {
	// A null id key counts as absent.
	var idField gjson.Result
	for _, key := range runnerIDKeys {
		if v := root.Get(key); v.Exists() && v.Type != gjson.Null {
			idField = v
			break
		}
	}
	if !idField.Exists() {
		return Sample{}, fmt.Errorf("%w: missing runner id", ErrMalformed)
	}

	runnerID, err := integer(idField, "runnerId")
	if err != nil {
		return Sample{}, err
	}

	sample := Sample{RunnerID: runnerID, TimestampMs: fallbackTimestampMs}
	fields := []struct {
		key string
		dst *float64
	}{
		{"positionX", &sample.PositionX},
		{"positionY", &sample.PositionY},
		{"speedX", &sample.SpeedX},
		{"speedY", &sample.SpeedY},
	}
	for _, f := range fields {
		v := root.Get(f.key)
		if !v.Exists() {
			return Sample{}, fmt.Errorf("%w: missing %s", ErrMalformed, f.key)
		}
		if *f.dst, err = number(v, f.key); err != nil {
			return Sample{}, err
		}
	}

	if ts := root.Get("timestampMs"); ts.Exists() && ts.Type != gjson.Null {
		if sample.TimestampMs, err = integer(ts, "timestampMs"); err != nil {
			return Sample{}, err
		}
	}

	return sample, nil
}

func number(v gjson.Result, name string) (float64, error) {
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s is %s, want number", ErrMalformed, name, v.Type)
	}
	return v.Num, nil
}

func integer(v gjson.Result, name string) (int64, error) {
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("%w: %s is %s, want integer", ErrMalformed, name, v.Type)
	}
	if n, err := strconv.ParseInt(v.Raw, 10, 64); err == nil {
		return n, nil
	}
	// Accept integral values written as 17.0 or 1.7e1.
	if v.Num != math.Trunc(v.Num) || math.Abs(v.Num) > maxExactFloat {
		return 0, fmt.Errorf("%w: %s must be an integer, got %s", ErrMalformed, name, v.Raw)
	}
	return int64(v.Num), nil
}
