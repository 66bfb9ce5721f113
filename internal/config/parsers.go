// Package config provides configuration loading and parsing for rwrk.
package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// maxSeconds is the largest whole number of seconds a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

var durationType = reflect.TypeOf(time.Duration(0))

// decodeSettings copies merged file and environment settings onto cfg using
// the mapstructure tags on Config. Keys absent from settings leave cfg as is.
func decodeSettings(cfg *Config, settings map[string]any) error {
	if len(settings) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.DecodeHookFuncType(secondsHook),
	})
	if err != nil {
		return err
	}
	return dec.Decode(settings)
}

// secondsHook lets every duration setting be written as a number of seconds
// (10, 0.5, "10") or as a Go duration string ("1m30s").
func secondsHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	return asDuration(data)
}

func asDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		return parseSeconds(v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return secondsToDuration(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return secondsToDuration(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return secondsToDuration(rv.Float())
	default:
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
}

// parseSeconds accepts a bare number of seconds ("10", "0.5") or a Go
// duration string ("1m30s"). An empty string is zero.
func parseSeconds(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err == nil {
		return secondsToDuration(secs)
	}
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("duration %q is out of range (max %ds)", raw, maxSeconds)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: expected seconds or a duration like 1m30s", raw)
	}
	return d, nil
}

func secondsToDuration(secs float64) (time.Duration, error) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, fmt.Errorf("duration %v is not a finite number of seconds", secs)
	}
	if math.Abs(secs) > float64(maxSeconds) {
		return 0, fmt.Errorf("duration %gs is out of range (max %ds)", secs, maxSeconds)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
