package report

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/roach88/resendgate/internal/engine"
)

// Resend statuses recorded on a results line.
const (
	ResendSuccess = "success"
	ResendFailed  = "failed"
)

// Record is one line of the results file: a verdict plus the outcome of its
// resend, when one was attempted.
type Record struct {
	Verdict      *engine.Verdict
	ResendStatus string
	ResendError  string
}

// ResultsFileName is the default name of the results file for a run
// started at now.
func ResultsFileName(now time.Time) string {
	return fmt.Sprintf("validation_results_%s.jsonl", now.Format("20060102_150405"))
}

// MarshalJSON writes the context columns first, then the verdict fields,
// then the resend outcome. Empty optional fields are omitted.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, value any) error {
		k, err := encode(key)
		if err != nil {
			return err
		}
		v, err := encode(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, f := range r.Verdict.Context {
		if err := write(f.Key, f.Value); err != nil {
			return nil, err
		}
	}

	body, err := encode(r.Verdict)
	if err != nil {
		return nil, err
	}
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(inner)
	}

	if r.ResendStatus != "" {
		if err := write("resend_status", r.ResendStatus); err != nil {
			return nil, err
		}
	}
	if r.ResendError != "" {
		if err := write("resend_error", r.ResendError); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a record. Keys that are neither verdict fields nor
// resend fields become context columns, in file order.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	var v engine.Verdict
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}

		switch {
		case key == "resend_status":
			if err := json.Unmarshal(raw, &r.ResendStatus); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		case key == "resend_error":
			if err := json.Unmarshal(raw, &r.ResendError); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		case verdictKeys[key]:
			if err := unmarshalField(&v, key, raw); err != nil {
				return err
			}
		default:
			var value any
			vd := json.NewDecoder(bytes.NewReader(raw))
			vd.UseNumber()
			if err := vd.Decode(&value); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
			v.Context = append(v.Context, engine.Field{Key: key, Value: value})
		}
	}
	r.Verdict = &v
	return nil
}

// verdictKeys holds the JSON names of the serialized Verdict fields.
var verdictKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeOf(engine.Verdict{})
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}()

func unmarshalField(v *engine.Verdict, key string, raw json.RawMessage) error {
	obj := make([]byte, 0, len(key)+len(raw)+4)
	k, _ := json.Marshal(key)
	obj = append(obj, '{')
	obj = append(obj, k...)
	obj = append(obj, ':')
	obj = append(obj, raw...)
	obj = append(obj, '}')
	if err := json.Unmarshal(obj, v); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}

// encode marshals without HTML escaping so reasons stay readable.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteJSONL writes one record per line.
func WriteJSONL(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		line, err := r.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode %s: %w", r.Verdict.OrderID, err)
		}
		bw.Write(line)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// SaveJSONL writes records to path, creating its directory.
func SaveJSONL(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create results file: %w", err)
	}
	if err := WriteJSONL(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadJSONL reads a results file. Blank lines are ignored.
func ReadJSONL(r io.Reader) ([]Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 8<<20)

	var records []Record
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec Record
		if err := rec.UnmarshalJSON(text); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadJSONL reads the results file at path.
func LoadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// Records wraps verdicts with no resend outcome.
func Records(verdicts []*engine.Verdict) []Record {
	records := make([]Record, len(verdicts))
	for i, v := range verdicts {
		records[i] = Record{Verdict: v}
	}
	return records
}
