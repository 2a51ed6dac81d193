package render

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"github.com/netpulse/netpulse/pkg/errdefs"
)

// Parser extracts structure from raw driver output.
type Parser interface {
	Parse(output string) (any, error)
}

// Parser plugin names.
const (
	ParserRegex    = "regex"
	ParserJSON     = "json"
	ParserIdentity = "identity"
)

type parserFactory func(template string) (Parser, error)

var parsers = map[string]parserFactory{
	ParserRegex:    newRegexParser,
	ParserJSON:     func(string) (Parser, error) { return jsonParser{}, nil },
	ParserIdentity: func(string) (Parser, error) { return identityParser{}, nil },
}

// NewParser builds the named parser plugin around its template.
func NewParser(name, template string) (Parser, error) {
	f, ok := parsers[name]
	if !ok {
		return nil, errdefs.NotFoundf("parser %q (have %v)", name, ParserNames())
	}
	return f(template)
}

// ParserNames lists registered parsers in stable order.
func ParserNames() []string {
	names := make([]string, 0, len(parsers))
	for name := range parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// regexParser records every match of its pattern. Named capture groups
// yield one map per match; patterns without names yield the raw match
// strings.
type regexParser struct {
	re    *regexp.Regexp
	named bool
}

func newRegexParser(template string) (Parser, error) {
	re, err := regexp.Compile(template)
	if err != nil {
		return nil, fmt.Errorf("%w: regex template: %v", errdefs.ErrValidation, err)
	}
	named := false
	for _, name := range re.SubexpNames() {
		if name != "" {
			named = true
			break
		}
	}
	return &regexParser{re: re, named: named}, nil
}

func (p *regexParser) Parse(output string) (any, error) {
	matches := p.re.FindAllStringSubmatch(output, -1)
	if !p.named {
		records := make([]string, 0, len(matches))
		for _, m := range matches {
			records = append(records, m[0])
		}
		return records, nil
	}
	names := p.re.SubexpNames()
	records := make([]map[string]string, 0, len(matches))
	for _, m := range matches {
		record := make(map[string]string)
		for i, name := range names {
			if name == "" || i >= len(m) {
				continue
			}
			record[name] = m[i]
		}
		records = append(records, record)
	}
	return records, nil
}

// jsonParser decodes the output as a JSON document.
type jsonParser struct{}

func (jsonParser) Parse(output string) (any, error) {
	var parsed any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		return nil, fmt.Errorf("%w: output is not valid JSON: %v", errdefs.ErrValidation, err)
	}
	return parsed, nil
}

// identityParser returns the output unchanged.
type identityParser struct{}

func (identityParser) Parse(output string) (any, error) {
	return output, nil
}
