// Package api implements the method-dispatch pipeline: the registry of
// named methods, the per-request context with its capability surface, the
// result envelope, and the batch executor.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"open-pryv.io/core/model"
	"open-pryv.io/core/version"
)

// Meta is appended to every response envelope.
type Meta struct {
	APIVersion string  `json:"apiVersion"`
	ServerTime float64 `json:"serverTime"`
}

// NewMeta builds the response meta for the current instant.
func NewMeta() Meta {
	return Meta{APIVersion: version.APIVersion, ServerTime: model.Timestamp()}
}

// ArrayStreamer produces the items of a streamed array one by one. It must
// stop and return the yield error when yield fails (client gone).
type ArrayStreamer func(yield func(item interface{}) error) error

// streamFlushEvery bounds buffering of streamed arrays: large result sets
// go out in many chunks instead of one marshaled blob.
const streamFlushEvery = 500

type resultField struct {
	key      string
	value    interface{}
	streamer ArrayStreamer
}

// Result collects the fields of a method response in insertion order. A
// field may hold a plain value or a streamed array that is emitted without
// buffering the whole set.
type Result struct {
	fields []resultField
	meta   *Meta
}

// NewResult builds an empty result.
func NewResult() *Result {
	return &Result{}
}

// Set stores a plain field, replacing any previous value under the key but
// keeping its original position.
func (r *Result) Set(key string, value interface{}) {
	for i := range r.fields {
		if r.fields[i].key == key {
			r.fields[i] = resultField{key: key, value: value}
			return
		}
	}
	r.fields = append(r.fields, resultField{key: key, value: value})
}

// SetStreamed stores an array field produced lazily at write time.
func (r *Result) SetStreamed(key string, s ArrayStreamer) {
	r.fields = append(r.fields, resultField{key: key, streamer: s})
}

// Get returns a plain field value.
func (r *Result) Get(key string) (interface{}, bool) {
	for _, f := range r.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// Has reports whether the key is set.
func (r *Result) Has(key string) bool {
	_, ok := r.Get(key)
	return ok
}

// ToMap materializes the result for in-process consumers (batch executor,
// tests). Streamed arrays are fully collected.
func (r *Result) ToMap() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(r.fields)+1)
	for _, f := range r.fields {
		if f.streamer != nil {
			var items []interface{}
			err := f.streamer(func(item interface{}) error {
				items = append(items, item)
				return nil
			})
			if err != nil {
				return nil, err
			}
			if items == nil {
				items = []interface{}{}
			}
			out[f.key] = items
			continue
		}
		out[f.key] = f.value
	}
	if r.meta != nil {
		out["meta"] = *r.meta
	}
	return out, nil
}

// WriteToHTTPResponse serializes the envelope. Plain fields are marshaled
// directly; streamed arrays are written item by item with periodic flushes
// so the client sees data before the producer finishes.
func (r *Result) WriteToHTTPResponse(w http.ResponseWriter, successCode int) error {
	meta := NewMeta()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(successCode)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	if _, err := w.Write([]byte("{")); err != nil {
		return err
	}
	first := true
	writeKey := func(key string) error {
		if !first {
			if _, err := w.Write([]byte(",")); err != nil {
				return err
			}
		}
		first = false
		keyJSON, _ := json.Marshal(key)
		if _, err := w.Write(append(keyJSON, ':')); err != nil {
			return err
		}
		return nil
	}

	for _, f := range r.fields {
		if err := writeKey(f.key); err != nil {
			return err
		}
		if f.streamer == nil {
			data, err := json.Marshal(f.value)
			if err != nil {
				return fmt.Errorf("failed to marshal result field %q: %w", f.key, err)
			}
			if _, err := w.Write(data); err != nil {
				return err
			}
			continue
		}

		if _, err := w.Write([]byte("[")); err != nil {
			return err
		}
		count := 0
		firstItem := true
		err := f.streamer(func(item interface{}) error {
			data, err := json.Marshal(item)
			if err != nil {
				return fmt.Errorf("failed to marshal streamed item: %w", err)
			}
			if !firstItem {
				if _, err := w.Write([]byte(",")); err != nil {
					return err
				}
			}
			firstItem = false
			if _, err := w.Write(data); err != nil {
				return err
			}
			count++
			if count%streamFlushEvery == 0 {
				flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("]")); err != nil {
			return err
		}
		flush()
	}

	if err := writeKey("meta"); err != nil {
		return err
	}
	metaJSON, _ := json.Marshal(meta)
	if _, err := w.Write(metaJSON); err != nil {
		return err
	}
	if _, err := w.Write([]byte("}")); err != nil {
		return err
	}
	flush()
	return nil
}
