// Package shaper bounds raw tool output before it is fed back to the LLM.
//
// Shaping runs as a staged pipeline with one type per stage:
// Raw -> Unwrapped -> Paged -> Flattened -> rendered string. Output size is
// bounded regardless of input size, and every truncation is announced
// in-band with a marker the LLM can quote verbatim.
package shaper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/addanuj/mcp-client/pkg/config"
)

const joinLimit = 5

// Raw is unprocessed tool output.
type Raw struct {
	Value interface{}
}

// Unwrapped is output with a single-key data wrapper removed.
type Unwrapped struct {
	Value interface{}
}

// Paged is list output truncated to the item bound. Total holds the
// pre-truncation count. Non-list output passes through in Value.
type Paged struct {
	IsList bool
	Items  []interface{}
	Total  int
	Value  interface{}
}

// Flattened is paged output with per-item field selection and value
// flattening applied.
type Flattened struct {
	IsList bool
	Rows   []map[string]string
	Marker string
	Value  interface{}
}

// Shaper applies the shaping pipeline with configured bounds.
type Shaper struct {
	maxItems     int
	maxKeys      int
	fallbackKeys int
	maxChars     int
	fields       map[string][]string
	keywords     []string

	encOnce sync.Once
	enc     *tiktoken.Tiktoken
}

// New builds a shaper from the config section. A nil or empty field table
// falls back to the built-in one.
func New(cfg *config.ShaperConfig) *Shaper {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFieldTable()
	}

	keywords := make([]string, 0, len(fields))
	for k := range fields {
		keywords = append(keywords, k)
	}
	// Longest keyword first so "log_source" wins over a shorter overlap
	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})

	return &Shaper{
		maxItems:     cfg.MaxItems,
		maxKeys:      cfg.MaxKeys,
		fallbackKeys: cfg.FallbackKeys,
		maxChars:     cfg.MaxChars,
		fields:       fields,
		keywords:     keywords,
	}
}

// Shape runs the full pipeline on raw tool output. The field allow-list is
// selected by resource keywords in the tool name or its call arguments.
func (s *Shaper) Shape(toolName string, args map[string]interface{}, raw interface{}) string {
	unwrapped := Unwrap(Raw{Value: raw})
	paged := s.Page(unwrapped)
	flattened := s.Flatten(resourceHint(toolName, args), paged)
	return s.Render(flattened)
}

// ShapeText parses tool output as JSON when possible and shapes the result;
// non-JSON text is bounded and escaped as-is.
func (s *Shaper) ShapeText(toolName string, args map[string]interface{}, text string) string {
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return s.finalize(text)
	}
	return s.Shape(toolName, args, value)
}

// resourceHint joins the tool name with the endpoint argument, if any, so
// generic tools (e.g. qradar_get with endpoint "/siem/offenses") still
// select the right allow-list.
func resourceHint(toolName string, args map[string]interface{}) string {
	hint := strings.ToLower(toolName)
	if endpoint, ok := args["endpoint"].(string); ok {
		hint += " " + strings.ToLower(endpoint)
	}
	return hint
}

// Unwrap removes a single-key {"data": ...} wrapper.
func Unwrap(r Raw) Unwrapped {
	if m, ok := r.Value.(map[string]interface{}); ok && len(m) == 1 {
		if data, ok := m["data"]; ok {
			return Unwrapped{Value: data}
		}
	}
	return Unwrapped{Value: r.Value}
}

// Page truncates list output to the item bound, recording the true total.
func (s *Shaper) Page(u Unwrapped) Paged {
	items, ok := u.Value.([]interface{})
	if !ok {
		return Paged{Value: u.Value}
	}

	total := len(items)
	if total > s.maxItems {
		items = items[:s.maxItems]
	}

	return Paged{
		IsList: true,
		Items:  items,
		Total:  total,
	}
}

// Flatten reduces item keys via the resource allow-list and collapses
// nested values to short strings. resource is the hint the keyword match
// runs against.
func (s *Shaper) Flatten(resource string, p Paged) Flattened {
	if !p.IsList {
		if m, ok := p.Value.(map[string]interface{}); ok {
			return Flattened{
				IsList: true,
				Rows:   []map[string]string{s.flattenItem(resource, m, nil)},
			}
		}
		return Flattened{Value: p.Value}
	}

	f := Flattened{IsList: true}

	if p.Total > len(p.Items) {
		f.Marker = fmt.Sprintf("[Total: %d items, showing %d]", p.Total, len(p.Items))
	}

	var fallback []string
	for _, item := range p.Items {
		m, ok := item.(map[string]interface{})
		if !ok {
			f.Rows = append(f.Rows, map[string]string{"value": flattenValue(item)})
			continue
		}
		if fallback == nil {
			fallback = s.fallbackFields(m)
		}
		f.Rows = append(f.Rows, s.flattenItem(resource, m, fallback))
	}

	return f
}

// flattenItem selects fields for one item and flattens every retained value.
func (s *Shaper) flattenItem(resource string, item map[string]interface{}, fallback []string) map[string]string {
	keep := s.selectFields(resource, item, fallback)

	row := make(map[string]string, len(keep))
	for _, key := range keep {
		if v, ok := item[key]; ok {
			row[key] = flattenValue(v)
		}
	}
	return row
}

func (s *Shaper) selectFields(resource string, item map[string]interface{}, fallback []string) []string {
	if len(item) <= s.maxKeys {
		keys := make([]string, 0, len(item))
		for k := range item {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}

	if allowed := s.fieldsFor(resource); allowed != nil {
		return allowed
	}

	if fallback != nil {
		return fallback
	}
	return s.fallbackFields(item)
}

// fieldsFor returns the allow-list whose resource keyword appears in the
// hint, or nil.
func (s *Shaper) fieldsFor(resource string) []string {
	lower := strings.ToLower(resource)
	for _, keyword := range s.keywords {
		if strings.Contains(lower, keyword) {
			return s.fields[keyword]
		}
	}
	return nil
}

// fallbackFields picks the first N keys of an item, sorted for determinism.
func (s *Shaper) fallbackFields(item map[string]interface{}) []string {
	keys := make([]string, 0, len(item))
	for k := range item {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > s.fallbackKeys {
		keys = keys[:s.fallbackKeys]
	}
	return keys
}

// flattenValue collapses nested values to a short string.
func flattenValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""

	case []interface{}:
		if len(val) == 0 {
			return ""
		}
		if len(val) == 1 {
			return flattenValue(val[0])
		}
		scalars := make([]string, 0, joinLimit)
		for i, item := range val {
			if i >= joinLimit {
				break
			}
			if !isScalar(item) {
				return fmt.Sprintf("[%d items]", len(val))
			}
			scalars = append(scalars, formatScalar(item))
		}
		return strings.Join(scalars, ", ")

	case map[string]interface{}:
		for _, key := range representativeKeys {
			if rep, ok := val[key]; ok {
				return flattenValue(rep)
			}
		}
		return "{...}"

	default:
		return formatScalar(v)
	}
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, string, bool, float64, int, int64:
		return true
	default:
		return false
	}
}

func formatScalar(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		// JSON numbers decode as float64; print integral values without
		// a fractional part
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Render serializes a flattened result and applies the final size and
// line-safety bounds.
func (s *Shaper) Render(f Flattened) string {
	if !f.IsList {
		return s.finalize(formatScalar(f.Value))
	}

	var sb strings.Builder
	if f.Marker != "" {
		sb.WriteString(f.Marker)
		sb.WriteString("\n")
	}

	data, err := json.Marshal(f.Rows)
	if err != nil {
		sb.WriteString(fmt.Sprintf("%v", f.Rows))
	} else {
		sb.Write(data)
	}

	return s.finalize(sb.String())
}

// finalize truncates oversized strings with an in-band marker and escapes
// the result to a single logical line.
func (s *Shaper) finalize(text string) string {
	if len(text) > s.maxChars {
		text = text[:s.maxChars] + fmt.Sprintf(" [TRUNCATED: %d chars total]", len(text))
	}

	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\t", " ")
	return text
}

// EstimateTokens approximates the token cost of shaped output.
func (s *Shaper) EstimateTokens(text string) int {
	s.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			s.enc = enc
		}
	})

	if s.enc == nil {
		return len(text) / 4
	}
	return len(s.enc.Encode(text, nil, nil))
}
