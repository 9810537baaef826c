// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pieces

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tombee/pollgate/pkg/polling"
)

// String returns config[key] when it is a string.
func String(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return s
}

// Strings returns config[key] as a list of strings. A single string is
// treated as a one-element list.
func Strings(config map[string]interface{}, key string) []string {
	switch v := config[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Int returns config[key] as an int, or def when absent or not numeric.
func Int(config map[string]interface{}, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns config[key] as a bool.
func Bool(config map[string]interface{}, key string) bool {
	switch v := config[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// StringMap returns config[key] as a map of strings.
func StringMap(config map[string]interface{}, key string) map[string]string {
	out := map[string]string{}
	switch v := config[key].(type) {
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	case map[string]interface{}:
		for k, e := range v {
			out[k] = fmt.Sprint(e)
		}
	}
	return out
}

// EpochMillis converts a timestamp value to milliseconds since the Unix
// epoch. Strings are parsed as RFC 3339 (with or without fractional seconds),
// the Jira/Atlassian offset form, or a decimal number. Numbers below 1e11 are
// taken as seconds, everything else as milliseconds.
func EpochMillis(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return numericEpoch(t), nil
	case int:
		return numericEpoch(float64(t)), nil
	case int64:
		return numericEpoch(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, err
		}
		return numericEpoch(f), nil
	case string:
		return parseTimestamp(t)
	case nil:
		return 0, fmt.Errorf("timestamp is missing")
	}
	return 0, fmt.Errorf("unsupported timestamp type %T", v)
}

func numericEpoch(f float64) int64 {
	if math.Abs(f) < 1e11 {
		return int64(math.Round(f * 1000))
	}
	return int64(f)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("timestamp is empty")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return numericEpoch(f), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized timestamp %q", s)
}

// ToPayload converts a decoded JSON value to an item payload. Objects are
// used as-is; any other value is wrapped under "value".
func ToPayload(v interface{}) polling.Payload {
	if m, ok := v.(map[string]interface{}); ok {
		return polling.Payload(m)
	}
	return polling.Payload{"value": v}
}

// IDString renders an identifier value as a string. JSON numbers are
// formatted without exponent or trailing zeros.
func IDString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", fmt.Errorf("id is empty")
		}
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case json.Number:
		return t.String(), nil
	case nil:
		return "", fmt.Errorf("id is missing")
	}
	return "", fmt.Errorf("unsupported id type %T", v)
}
